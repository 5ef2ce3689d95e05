package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"

	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// DescriptionPort is the UPnP port serving the device description.
const DescriptionPort = 60606

// Description is the device element of the UPnP description document.
type Description struct {
	DeviceType   string `xml:"deviceType"`
	FriendlyName string `xml:"friendlyName"`
	Manufacturer string `xml:"manufacturer"`
	ModelName    string `xml:"modelName"`
	ModelNumber  string `xml:"modelNumber"`
	SerialNumber string `xml:"serialNumber"`
	UDN          string `xml:"UDN"`

	// Fields holds every child of the device element by name.
	Fields map[string]string `xml:"-"`
}

type descriptionDoc struct {
	XMLName xml.Name `xml:"urn:schemas-upnp-org:device-1-0 root"`
	Device  struct {
		Description
		Any []struct {
			XMLName xml.Name
			Value   string `xml:",chardata"`
		} `xml:",any"`
	} `xml:"urn:schemas-upnp-org:device-1-0 device"`
}

// DescriptionURL returns the description URL for host.
func DescriptionURL(host string) string {
	return fmt.Sprintf("http://%s:%d%s", host, DescriptionPort, DescriptionPath)
}

// ParseDescription decodes a description document.
func ParseDescription(data []byte) (*Description, error) {
	var doc descriptionDoc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: device description: %v", wire.ErrProtocol, err)
	}
	d := doc.Device.Description
	d.Fields = map[string]string{
		"deviceType":   d.DeviceType,
		"friendlyName": d.FriendlyName,
		"manufacturer": d.Manufacturer,
		"modelName":    d.ModelName,
		"modelNumber":  d.ModelNumber,
		"serialNumber": d.SerialNumber,
		"UDN":          d.UDN,
	}
	for _, f := range doc.Device.Any {
		d.Fields[f.XMLName.Local] = f.Value
	}
	if d.UDN == "" {
		return nil, fmt.Errorf("%w: device description without UDN", wire.ErrProtocol)
	}
	return &d, nil
}

// Getter fetches a URL. camcgi.Client satisfies it.
type Getter interface {
	Get(ctx context.Context, rawURL string) ([]byte, http.Header, error)
}

// FetchDescription downloads and parses the description of host.
func FetchDescription(ctx context.Context, g Getter, host string) (*Description, error) {
	body, _, err := g.Get(ctx, DescriptionURL(host))
	if err != nil {
		return nil, err
	}
	return ParseDescription(body)
}
