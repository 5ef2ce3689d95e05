package wificontrol

import (
	"fmt"
	"slices"

	"github.com/lumix-remote/lumix-go/pkg/camcgi"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// Option is one selectable value of a setsetting command.
type Option struct {
	Name   string
	Value  string
	Value2 string
}

// Command is a setsetting type with its menu title and options.
type Command struct {
	Type    string
	Name    string
	Options []Option
}

// Menu is the parsed allmenu document: setsetting commands and the
// localized titles of menu entries.
type Menu struct {
	titles   map[string]map[string]string
	fallback string
	lang     string
	commands []Command
}

// ParseMenu reads an allmenu reply. Commands missing from the document
// (SD card selection, shutter speed and aperture) are added.
func ParseMenu(doc *camcgi.Node) (*Menu, error) {
	set := doc.Child("menuset")
	if set == nil {
		return nil, fmt.Errorf("%w: allmenu without menuset", wire.ErrProtocol)
	}
	m := &Menu{titles: map[string]map[string]string{}}
	if tl := set.Child("titlelist"); tl != nil {
		for i := range tl.Children {
			lang := &tl.Children[i]
			if lang.Name() != "language" {
				continue
			}
			code := lang.Attr("code")
			titles := make(map[string]string, len(lang.Children))
			for _, t := range lang.Children {
				titles[t.Attr("id")] = t.Value()
			}
			m.titles[code] = titles
			if lang.Attr("default") == "yes" || m.fallback == "" {
				m.fallback = code
			}
		}
	}
	m.lang = m.fallback

	index := map[string]int{}
	var walk func(n, parent, grand *camcgi.Node)
	walk = func(n, parent, grand *camcgi.Node) {
		if n.Attr("cmd_mode") == "setsetting" {
			typ := n.Attr("cmd_type")
			i, ok := index[typ]
			if !ok {
				name := ""
				if grand != nil {
					name = grand.Attr("title_id")
				}
				i = len(m.commands)
				index[typ] = i
				m.commands = append(m.commands, Command{Type: typ, Name: name})
			}
			m.commands[i].Options = append(m.commands[i].Options, Option{
				Name:   n.Attr("title_id"),
				Value:  n.Attr("cmd_value"),
				Value2: n.Attr("cmd_value2"),
			})
		}
		for i := range n.Children {
			walk(&n.Children[i], n, parent)
		}
	}
	walk(set, nil, nil)

	for _, c := range extraCommands() {
		if _, ok := index[c.Type]; !ok {
			index[c.Type] = len(m.commands)
			m.commands = append(m.commands, c)
		}
	}
	return m, nil
}

// Languages lists the title languages of the menu.
func (m *Menu) Languages() []string {
	out := make([]string, 0, len(m.titles))
	for code := range m.titles {
		out = append(out, code)
	}
	slices.Sort(out)
	return out
}

// SetLanguage selects the language for Title. An empty code selects the
// camera's default language.
func (m *Menu) SetLanguage(code string) error {
	if code == "" {
		code = m.fallback
	}
	if _, ok := m.titles[code]; !ok {
		return fmt.Errorf("%w: language %q not in %v", wire.ErrInvalidParameter, code, m.Languages())
	}
	m.lang = code
	return nil
}

// Language returns the selected language code.
func (m *Menu) Language() string { return m.lang }

// Title translates a title id. Unknown ids are returned unchanged.
func (m *Menu) Title(id string) string {
	if t, ok := m.titles[m.lang][id]; ok {
		return t
	}
	if t, ok := m.titles["en"][id]; ok {
		return t
	}
	return id
}

// Commands returns the setsetting commands with localized names, in menu
// order.
func (m *Menu) Commands() []Command {
	out := make([]Command, len(m.commands))
	for i, c := range m.commands {
		lc := Command{Type: c.Type, Name: m.Title(c.Name), Options: make([]Option, len(c.Options))}
		for j, o := range c.Options {
			lc.Options[j] = Option{Name: m.Title(o.Name), Value: o.Value, Value2: o.Value2}
		}
		out[i] = lc
	}
	return out
}

// Command returns the command of the given setsetting type.
func (m *Menu) Command(typ string) (Command, bool) {
	for _, c := range m.Commands() {
		if c.Type == typ {
			return c, true
		}
	}
	return Command{}, false
}

// readOnlyExtra are getsetting types that no menu entry lists.
var readOnlyExtra = []string{"play_sort_mode", "qmenu_disp_style", "photostyle2", "current_sd"}

// writeOnly are setsetting types the camera rejects in getsetting.
var writeOnly = []string{"liveviewsize", "recmode", "videoquality_filter", "photostyle"}

// Readable returns every setting type that can be read back with
// getsetting.
func (m *Menu) Readable() []string {
	var out []string
	for _, c := range m.commands {
		if !slices.Contains(writeOnly, c.Type) && !slices.Contains(out, c.Type) {
			out = append(out, c.Type)
		}
	}
	for _, t := range readOnlyExtra {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func extraCommands() []Command {
	sd := Command{Type: "current_sd", Name: "SD Card"}
	for i := 1; i <= 2; i++ {
		sd.Options = append(sd.Options, Option{Name: fmt.Sprintf("SD Card %d", i), Value: fmt.Sprintf("sd%d", i)})
	}
	return []Command{
		sd,
		ratioCommand("shtrspeed", "Shutter Speed", shutterSpeeds),
		ratioCommand("focal", "Aperture", apertures),
	}
}

func ratioCommand(typ, name string, table [][2]string) Command {
	c := Command{Type: typ, Name: name, Options: make([]Option, len(table))}
	for i, e := range table {
		c.Options[i] = Option{Name: e[1], Value: e[0]}
	}
	return c
}

// Shutter speed values in 1/256 EV steps with their display names.
var shutterSpeeds = [][2]string{
	{"3840/256", "32000"}, {"3755/256", "25000"}, {"3670/256", "20000"}, {"3584/256", "16000"},
	{"3499/256", "13000"}, {"3414/256", "10000"}, {"3328/256", "8000"}, {"3243/256", "6400"},
	{"3158/256", "5000"}, {"3072/256", "4000"}, {"2987/256", "3200"}, {"2902/256", "2500"},
	{"2816/256", "2000"}, {"2731/256", "1600"}, {"2646/256", "1300"}, {"2560/256", "1000"},
	{"2475/256", "800"}, {"2390/256", "640"}, {"2304/256", "500"}, {"2219/256", "400"},
	{"2134/256", "320"}, {"2048/256", "250"}, {"1963/256", "200"}, {"1878/256", "160"},
	{"1792/256", "125"}, {"1707/256", "100"}, {"1622/256", "80"}, {"1536/256", "60"},
	{"1451/256", "50"}, {"1366/256", "40"}, {"1280/256", "30"}, {"1195/256", "25"},
	{"1110/256", "20"}, {"1024/256", "15"}, {"939/256", "13"}, {"854/256", "10"},
	{"768/256", "8"}, {"683/256", "6"}, {"598/256", "5"}, {"512/256", "4"},
	{"427/256", "3.2"}, {"342/256", "2.5"}, {"256/256", "2"}, {"171/256", "1.6"},
	{"86/256", "1.3"}, {"0/256", "1"}, {"65451/256", "1.3s"}, {"65366/256", "1.6s"},
	{"65280/256", "2s"}, {"65195/256", "2.5s"}, {"65110/256", "3.2s"}, {"65024/256", "4s"},
	{"64939/256", "5s"}, {"64854/256", "6s"}, {"64768/256", "8s"}, {"64683/256", "10s"},
	{"64598/256", "13s"}, {"64512/256", "15s"}, {"64427/256", "20s"}, {"64342/256", "25s"},
	{"64256/256", "30s"}, {"64171/256", "40s"}, {"64086/256", "50s"}, {"64000/256", "60s"},
	{"16384/256", "B"},
}

// Aperture values in 1/256 EV steps with their f-numbers.
var apertures = [][2]string{
	{"164/256", "1.18"}, {"171/256", "1.2"}, {"256/256", "1.4"}, {"342/256", "1.6"},
	{"392/256", "1.7"}, {"427/256", "1.8"}, {"512/256", "2"}, {"598/256", "2.2"},
	{"683/256", "2.5"}, {"768/256", "2.8"}, {"854/256", "3.2"}, {"938/256", "3.5"},
	{"1024/256", "4"}, {"1110/256", "4.5"}, {"1195/256", "5"}, {"1280/256", "5.6"},
	{"1366/256", "6.3"}, {"1451/256", "7.1"}, {"1536/256", "8"}, {"1622/256", "9"},
	{"1707/256", "10"}, {"1792/256", "11"}, {"1878/256", "13"}, {"1963/256", "14"},
	{"2048/256", "16"}, {"2134/256", "18"}, {"2219/256", "20"}, {"2304/256", "22"},
}
