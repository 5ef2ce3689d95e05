package catalog

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Content directory constants.
const (
	// ControlPath is the CDS control URL path on the UPnP port.
	ControlPath = "/Server0/CDS_control"

	// ControlPort is the camera's UPnP port.
	ControlPort = 60606

	// BrowseAction is the SOAPACTION header of a Browse call.
	BrowseAction = `"urn:schemas-upnp-org:service:ContentDirectory:1#Browse"`

	// UserAgent is sent with every content directory request.
	UserAgent = "Panasonic Android/1 DM-CP"

	// RootContainer is the object id of the card root.
	RootContainer = "0"

	// DefaultPageSize is the number of objects requested per Browse.
	DefaultPageSize = 15

	fromCP    = "LumixLink2.0"
	dateOrder = "type=date,value=ascend"
)

// Filter narrows a browse.
type Filter struct {
	// MaxAgeDays keeps objects at most this many days old. Zero means
	// today only; nil disables the filter.
	MaxAgeDays *int

	// Ratings keeps objects with one of these star ratings (0 means
	// unrated).
	Ratings []int

	// ContainerID browses inside a container. Empty means the root.
	ContainerID string

	// RecGroupType selects a recording group kind, e.g. "Interval".
	RecGroupType string
}

// AgeDays returns a pointer to days, for Filter.MaxAgeDays.
func AgeDays(days int) *int { return &days }

// String renders the camera's X_Filter value.
func (f Filter) String() string {
	var parts []string
	if f.MaxAgeDays != nil {
		parts = append(parts, fmt.Sprintf("type=date,value=relative,value2=%d", *f.MaxAgeDays))
	}
	if len(f.Ratings) > 0 {
		rs := make([]string, len(f.Ratings))
		for i, r := range f.Ratings {
			rs[i] = strconv.Itoa(r)
		}
		parts = append(parts, "type=rating,value="+strings.Join(rs, "/"))
	}
	return strings.Join(parts, ";")
}

func (f Filter) container() string {
	if f.ContainerID == "" {
		return RootContainer
	}
	return f.ContainerID
}

type envelope struct {
	XMLName  xml.Name `xml:"s:Envelope"`
	NS       string   `xml:"xmlns:s,attr"`
	Encoding string   `xml:"s:encodingStyle,attr"`
	Body     struct {
		Browse browseArgs `xml:"u:Browse"`
	} `xml:"s:Body"`
}

type browseArgs struct {
	NSU            string `xml:"xmlns:u,attr"`
	NSPana         string `xml:"xmlns:pana,attr"`
	ObjectID       string `xml:"ObjectID"`
	BrowseFlag     string `xml:"BrowseFlag"`
	Filter         string `xml:"Filter"`
	StartingIndex  int    `xml:"StartingIndex"`
	RequestedCount int    `xml:"RequestedCount"`
	SortCriteria   string `xml:"SortCriteria"`
	FromCP         string `xml:"pana:X_FromCP"`
	RecGroupType   string `xml:"pana:X_RecGroupType,omitempty"`
	XFilter        string `xml:"pana:X_Filter,omitempty"`
	Order          string `xml:"pana:X_Order,omitempty"`
}

// BuildBrowse renders the SOAP body of one Browse page.
func BuildBrowse(f Filter, start, count int) ([]byte, error) {
	var env envelope
	env.NS = "http://schemas.xmlsoap.org/soap/envelope/"
	env.Encoding = "http://schemas.xmlsoap.org/soap/encoding/"
	env.Body.Browse = browseArgs{
		NSU:            "urn:schemas-upnp-org:service:ContentDirectory:1",
		NSPana:         "urn:schemas-panasonic-com:pana",
		ObjectID:       f.container(),
		BrowseFlag:     "BrowseDirectChildren",
		Filter:         "*",
		StartingIndex:  start,
		RequestedCount: count,
		FromCP:         fromCP,
		RecGroupType:   f.RecGroupType,
	}
	if xf := f.String(); xf != "" {
		env.Body.Browse.XFilter = xf
		env.Body.Browse.Order = dateOrder
	}
	out, err := xml.MarshalIndent(env, "", " ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
