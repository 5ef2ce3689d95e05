package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lumix-remote/lumix-go/pkg/camcgi"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Resource kinds, keyed by their PANASONIC.COM_PN value.
const (
	ResThumbnail = "CAM_TN"
	ResPreview   = "CAM_LRGTN"
	ResJPEG      = "CAM_RAW_JPG"
	ResRAW       = "CAM_RAW"
	ResVideo     = "CAM_AVC_MP4_ORG"

	pnKey = "PANASONIC.COM_PN"
)

// Resource is one res element of an object.
type Resource struct {
	URI              string
	ProtocolInfo     string
	Protocol         string
	Network          string
	ContentFormat    string
	Info             map[string]string
	Size             int64
	Duration         string
	OriginalFileName string
}

// Kind returns the PANASONIC.COM_PN of the resource.
func (r Resource) Kind() string { return r.Info[pnKey] }

// Item is one object of a browse, an item or a container.
type Item struct {
	// Index is the absolute position in the browse.
	Index int

	Container bool
	ID        string
	ParentID  string
	Title     string
	Class     string
	Date      string

	// ChildCount is set for containers.
	ChildCount int

	RecGroupType string
	ThumbURI     string
	Rating       string

	// Resources is keyed by Resource.Kind.
	Resources map[string]Resource
}

// Thumbnail returns the thumbnail locator of the item.
func (it Item) Thumbnail() string {
	if r, ok := it.Resources[ResThumbnail]; ok {
		return r.URI
	}
	return it.ThumbURI
}

// Original returns the full-size resource: video, then RAW, then JPEG.
func (it Item) Original() (Resource, bool) {
	for _, k := range []string{ResVideo, ResRAW, ResJPEG} {
		if r, ok := it.Resources[k]; ok {
			return r, true
		}
	}
	return Resource{}, false
}

// Page is one decoded Browse answer.
type Page struct {
	StartingIndex  int
	RequestedCount int
	NumberReturned int
	TotalMatches   int
	UpdateID       int
	Items          []Item
}

// ParseProtocolInfo splits a protocolInfo string. The camera separates the
// additional info with ';' where UPnP wants ':', which is accepted too.
func ParseProtocolInfo(s string) (protocol, network, format string, info map[string]string, err error) {
	if strings.Count(s, ":") == 2 {
		s = strings.Replace(s, ";", ":", 1)
	}
	parts := strings.SplitN(s, ":", 4)
	if len(parts) != 4 {
		return "", "", "", nil, fmt.Errorf("%w: protocolInfo %q", wire.ErrProtocol, s)
	}
	info = map[string]string{}
	for _, kv := range strings.Split(parts[3], ";") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if k == "OriginalFileName" {
			v = strings.Trim(v, `'"`)
		}
		info[k] = v
	}
	return parts[0], parts[1], parts[2], info, nil
}

// ParseBrowseResponse decodes a SOAP BrowseResponse. start is the
// StartingIndex of the request.
func ParseBrowseResponse(body []byte, start, count int) (*Page, error) {
	env, err := camcgi.ParseNode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: browse response: %v", wire.ErrProtocol, err)
	}
	find := func(name string) *camcgi.Node {
		if nodes := env.FindAll(func(n *camcgi.Node) bool { return n.Name() == name }); len(nodes) > 0 {
			return nodes[0]
		}
		return nil
	}
	result := find("Result")
	total := find("TotalMatches")
	returned := find("NumberReturned")
	if result == nil || total == nil || returned == nil {
		return nil, fmt.Errorf("%w: browse response without Result", wire.ErrProtocol)
	}

	p := &Page{StartingIndex: start, RequestedCount: count}
	if p.TotalMatches, err = strconv.Atoi(total.Value()); err != nil {
		return nil, fmt.Errorf("%w: TotalMatches %q", wire.ErrProtocol, total.Value())
	}
	if p.NumberReturned, err = strconv.Atoi(returned.Value()); err != nil {
		return nil, fmt.Errorf("%w: NumberReturned %q", wire.ErrProtocol, returned.Value())
	}
	if u := find("UpdateID"); u != nil {
		p.UpdateID, _ = strconv.Atoi(u.Value())
	}
	if p.Items, err = ParseDIDL([]byte(result.Value()), start); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseDIDL decodes a DIDL-Lite document. Items are numbered from start.
func ParseDIDL(data []byte, start int) ([]Item, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	doc, err := camcgi.ParseNode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: DIDL-Lite: %v", wire.ErrProtocol, err)
	}
	var items []Item
	for _, n := range doc.Children {
		kind := n.Name()
		if kind != "item" && kind != "container" {
			continue
		}
		it := Item{
			Index:     start + len(items),
			Container: kind == "container",
			ID:        n.Attr("id"),
			ParentID:  n.Attr("parentID"),
			Resources: map[string]Resource{},
		}
		it.ChildCount, _ = strconv.Atoi(n.Attr("childCount"))
		for _, c := range n.Children {
			switch c.Name() {
			case "title":
				it.Title = c.Value()
			case "class":
				it.Class = c.Value()
			case "date":
				it.Date = c.Value()
			case "X_RecGroupType":
				it.RecGroupType = c.Value()
			case "X_ThumbURI":
				it.ThumbURI = c.Value()
			case "X_Rating":
				it.Rating = c.Value()
			case "res":
				r, err := parseResource(&c)
				if err != nil {
					return nil, err
				}
				key := r.Kind()
				if key == "" {
					key = r.ContentFormat
				}
				it.Resources[key] = r
			}
		}
		items = append(items, it)
	}
	return items, nil
}

func parseResource(n *camcgi.Node) (Resource, error) {
	r := Resource{
		URI:          n.Value(),
		ProtocolInfo: n.Attr("protocolInfo"),
		Duration:     n.Attr("duration"),
	}
	r.Size, _ = strconv.ParseInt(n.Attr("size"), 10, 64)
	var err error
	r.Protocol, r.Network, r.ContentFormat, r.Info, err = ParseProtocolInfo(r.ProtocolInfo)
	if err != nil {
		return Resource{}, err
	}
	r.OriginalFileName = r.Info["OriginalFileName"]
	return r, nil
}
