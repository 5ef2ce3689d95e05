package events

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// EventNamespace is the UPnP eventing namespace.
const EventNamespace = "urn:schemas-upnp-org:event-1-0"

// Property is one pushed variable.
type Property struct {
	Name  string
	Value string
}

type propertySet struct {
	XMLName    xml.Name `xml:"urn:schemas-upnp-org:event-1-0 propertyset"`
	Properties []struct {
		Vars []struct {
			XMLName xml.Name
			Value   string `xml:",chardata"`
		} `xml:",any"`
	} `xml:"urn:schemas-upnp-org:event-1-0 property"`
}

// ParsePropertySet decodes a NOTIFY body into its properties, in document
// order.
func ParsePropertySet(data []byte) ([]Property, error) {
	var ps propertySet
	if err := xml.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("%w: propertyset: %v", wire.ErrProtocol, err)
	}
	var out []Property
	for _, p := range ps.Properties {
		for _, v := range p.Vars {
			out = append(out, Property{Name: v.XMLName.Local, Value: strings.TrimSpace(v.Value)})
		}
	}
	return out, nil
}
