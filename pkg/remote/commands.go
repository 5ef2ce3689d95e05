package remote

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lumix-remote/lumix-go/pkg/camcgi"
	"github.com/lumix-remote/lumix-go/pkg/catalog"
	"github.com/lumix-remote/lumix-go/pkg/wire"
)

// action adapts a no-argument camera call.
func action(fn func(context.Context) error) Handler {
	return func(ctx context.Context, _ []string) (any, error) {
		return nil, fn(ctx)
	}
}

func simple(name, help string, fn func(context.Context) error) Command {
	return Command{Name: name, Help: help, Run: action(fn)}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{wire.ErrInvalidParameter}, args...)...)
}

func atoi(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalid("%s %q is not a number", name, s)
	}
	return n, nil
}

func onOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true", "enable":
		return true, nil
	case "off", "0", "false", "disable":
		return false, nil
	}
	return false, invalid("%q is neither on nor off", s)
}

// parseAddress reads a register address, hex with or without 0x.
func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0, invalid("register address %q", s)
	}
	return uint16(v), nil
}

func (r *Remote) registerCommon() {
	r.register(Command{
		Name: "status",
		Help: "session state and device identity",
		Run: func(context.Context, []string) (any, error) {
			id := r.session.Identity()
			return map[string]string{
				"transport": r.session.Transport().String(),
				"state":     r.session.State().String(),
				"name":      id.Name,
				"model":     id.Model,
				"serial":    id.Serial,
				"address":   id.Address,
			}, nil
		},
	})
	r.register(Command{
		Name: "snapshot",
		Help: "last known device state",
		Run: func(context.Context, []string) (any, error) {
			values, _ := r.session.Snapshot()
			return values, nil
		},
	})
	r.register(simple("connect", "connect and wait until ready", r.Connect))
	r.register(simple("disconnect", "drop the session", func(context.Context) error {
		r.Disconnect()
		return nil
	}))
	r.register(simple("forget", "forget the remembered camera", func(context.Context) error {
		return r.Forget()
	}))
	r.register(Command{
		Name: "host_join", Usage: "[ssid] [password]", Help: "join this host to the camera access point",
		MaxArgs: 2,
		Run: func(ctx context.Context, args []string) (any, error) {
			return r.JoinCameraNetwork(ctx, arg(args, 0), arg(args, 1))
		},
	})
}

func (r *Remote) registerWiFi() {
	c := r.wctl
	for _, cmd := range []Command{
		simple("capture", "take a picture", c.Capture),
		simple("capture_cancel", "abort a running capture", c.CaptureCancel),
		simple("oneshot_af", "run one autofocus", c.OneshotAF),
		simple("autoreview_unlock", "leave the capture review", c.AutoReviewUnlock),
		simple("touch_release", "release a touch", c.TouchRelease),
		simple("lcd_on", "wake the display", c.LCDOn),
		simple("menu_entry", "open the camera menu", c.MenuEntry),
		simple("video_start", "start recording", c.VideoRecStart),
		simple("video_stop", "stop recording", c.VideoRecStop),
		simple("recmode", "switch to record mode", c.RecMode),
		simple("playmode", "switch to play mode", c.PlayMode),
		simple("poweroff", "switch the camera off", c.PowerOff),
		simple("stream_stop", "stop the live view stream", c.StopStream),
		simple("refresh", "reload lens, menus and settings", c.Refresh),
	} {
		r.register(cmd)
	}

	r.register(Command{
		Name: "stream_start", Usage: "[port]", Help: "start the live view stream",
		MaxArgs: 1,
		Run: func(ctx context.Context, args []string) (any, error) {
			port := 0
			if len(args) == 1 {
				p, err := atoi("port", args[0])
				if err != nil {
					return nil, err
				}
				port = p
			}
			return nil, c.StartStream(ctx, port)
		},
	})
	r.register(Command{
		Name: "touch", Usage: "<x> <y>", Help: "tap at x/y (0..1000)",
		MinArgs: 2, MaxArgs: 2,
		Run: func(ctx context.Context, args []string) (any, error) {
			x, y, err := point(args[0], args[1])
			if err != nil {
				return nil, err
			}
			return nil, c.Touch(ctx, x, y)
		},
	})
	r.register(Command{
		Name: "drag", Usage: "<start|continue|stop> <x> <y>", Help: "one touch drag step",
		MinArgs: 3, MaxArgs: 3,
		Run: func(ctx context.Context, args []string) (any, error) {
			x, y, err := point(args[1], args[2])
			if err != nil {
				return nil, err
			}
			return c.TouchDrag(ctx, args[0], x, y)
		},
	})
	r.register(Command{
		Name: "trace", Usage: "<x> <y> <x> <y> ...", Help: "drag along the given points",
		MinArgs: 4, MaxArgs: -1,
		Run: func(ctx context.Context, args []string) (any, error) {
			if len(args)%2 != 0 {
				return nil, invalid("trace needs x/y pairs")
			}
			points := make([][2]int, 0, len(args)/2)
			for i := 0; i < len(args); i += 2 {
				x, y, err := point(args[i], args[i+1])
				if err != nil {
					return nil, err
				}
				points = append(points, [2]int{x, y})
			}
			return nil, c.TouchTrace(ctx, points)
		},
	})
	r.register(Command{
		Name: "focus", Usage: "<wide-fast|wide-normal|tele-normal|tele-fast>", Help: "move the focus one step",
		MinArgs: 1, MaxArgs: 1,
		Run: func(ctx context.Context, args []string) (any, error) {
			return c.Focus(ctx, args[0])
		},
	})
	r.register(Command{
		Name: "touch_capture", Usage: "<enable|disable|off>", Help: "touch shutter",
		MinArgs: 1, MaxArgs: 1,
		Run: func(ctx context.Context, args []string) (any, error) {
			return nil, c.TouchCaptureCtrl(ctx, args[0])
		},
	})
	r.register(Command{
		Name: "touch_ae", Usage: "<on|off>", Help: "touch exposure metering",
		MinArgs: 1, MaxArgs: 1,
		Run: func(ctx context.Context, args []string) (any, error) {
			return nil, c.TouchAECtrl(ctx, args[0])
		},
	})
	r.register(Command{
		Name: "assist", Usage: "<value> [value2]", Help: "focus assist display",
		MinArgs: 1, MaxArgs: 2,
		Run: func(ctx context.Context, args []string) (any, error) {
			return nil, c.AssistDisplay(ctx, args[0], arg(args, 1))
		},
	})
	r.register(Command{
		Name: "get", Usage: "<type>", Help: "read a setting",
		MinArgs: 1, MaxArgs: 1,
		Run: func(ctx context.Context, args []string) (any, error) {
			return c.GetSetting(ctx, args[0])
		},
	})
	r.register(Command{
		Name: "set", Usage: "<type> <value> [value2]", Help: "change a setting and read it back",
		MinArgs: 2, MaxArgs: 3,
		Run: func(ctx context.Context, args []string) (any, error) {
			return c.SetSetting(ctx, args[0], args[1], arg(args, 2))
		},
	})
	r.register(Command{
		Name: "sd", Usage: "<1|2>", Help: "select the SD card slot",
		MinArgs: 1, MaxArgs: 1,
		Run: func(ctx context.Context, args []string) (any, error) {
			slot, err := atoi("slot", args[0])
			if err != nil {
				return nil, err
			}
			return nil, c.SelectSDCard(ctx, slot)
		},
	})
	r.register(Command{
		Name: "settings", Help: "settings read at the last refresh",
		Run: func(context.Context, []string) (any, error) { return c.Settings(), nil },
	})
	r.register(Command{
		Name: "menu", Help: "settable commands with their options",
		Run: func(context.Context, []string) (any, error) { return c.Commands(), nil },
	})
	r.register(Command{
		Name: "language", Usage: "[code]", Help: "menu language",
		MaxArgs: 1,
		Run: func(_ context.Context, args []string) (any, error) {
			if len(args) == 1 {
				if err := c.SetLanguage(args[0]); err != nil {
					return nil, err
				}
			}
			m := c.Menu()
			if m == nil {
				return nil, fmt.Errorf("%w: menu not loaded", wire.ErrNotConnected)
			}
			return map[string]any{"language": m.Language(), "available": m.Languages()}, nil
		},
	})
	r.register(Command{
		Name: "lens", Help: "attached lens",
		Run: func(context.Context, []string) (any, error) { return c.Lens(), nil },
	})
	r.register(Command{
		Name: "state", Help: "poll the camera state now",
		Run: func(ctx context.Context, _ []string) (any, error) { return c.State(ctx) },
	})
	r.register(Command{
		Name: "content_info", Help: "number of stored objects",
		Run: func(ctx context.Context, _ []string) (any, error) { return c.ContentInfo(ctx) },
	})
	r.register(Command{
		Name: "browse", Usage: "[days]", Help: "list stored content, optionally the last n days",
		MaxArgs: 1,
		Run: func(ctx context.Context, args []string) (any, error) {
			var f catalog.Filter
			if len(args) == 1 {
				days, err := atoi("days", args[0])
				if err != nil {
					return nil, err
				}
				f.MaxAgeDays = catalog.AgeDays(days)
			}
			return r.Browse(ctx, f)
		},
	})
	r.register(Command{
		Name: "download", Usage: "<locator>", Help: "fetch one content resource",
		MinArgs: 1, MaxArgs: 1,
		Run: func(ctx context.Context, args []string) (any, error) {
			return c.Download(ctx, args[0])
		},
	})
	r.register(Command{
		Name: "raw", Usage: "<mode> [type] [value] [value2]", Help: "send an uninterpreted cam.cgi call",
		MinArgs: 1, MaxArgs: 4,
		Run: func(ctx context.Context, args []string) (any, error) {
			return r.RawCGI(ctx, RawCommand{Mode: args[0], Type: arg(args, 1), Value: arg(args, 2), Value2: arg(args, 3)})
		},
	})
}

func (r *Remote) registerBLE() {
	c := r.bctl
	for _, cmd := range []Command{
		simple("capture", "take a picture", c.Capture),
		simple("shutter_press", "hold the shutter", c.ShutterPress),
		simple("shutter_release", "release the shutter", c.ShutterRelease),
		simple("video", "start or stop recording", c.ToggleVideo),
		simple("ap_activate", "start the camera access point", c.ActivateAccessPoint),
		simple("ap_leave", "leave the joined access point", c.LeaveAccessPoint),
	} {
		r.register(cmd)
	}

	info := func(name, help string, fn func(context.Context) (string, error)) Command {
		return Command{Name: name, Help: help, Run: func(ctx context.Context, _ []string) (any, error) {
			return fn(ctx)
		}}
	}
	r.register(info("name", "camera name", c.CameraName))
	r.register(info("model", "camera model", c.Model))
	r.register(info("firmware", "firmware version", c.Firmware))
	r.register(info("lens", "attached lens", c.Lens))
	r.register(Command{
		Name: "cards", Help: "SD card status",
		Run: func(ctx context.Context, _ []string) (any, error) { return c.CardStatus(ctx) },
	})
	r.register(Command{
		Name: "ap_join", Usage: "<ssid>", Help: "join an access point",
		MinArgs: 1, MaxArgs: 1,
		Run: func(ctx context.Context, args []string) (any, error) {
			return nil, c.JoinAccessPoint(ctx, args[0])
		},
	})
	r.register(Command{
		Name: "wifi5g", Usage: "<on|off>", Help: "5 GHz band",
		MinArgs: 1, MaxArgs: 1,
		Run: func(ctx context.Context, args []string) (any, error) {
			on, err := onOff(args[0])
			if err != nil {
				return nil, err
			}
			return nil, c.SetWiFi5GHz(ctx, on)
		},
	})
	r.register(Command{
		Name: "clock", Help: "set the camera clock to now",
		Run: func(ctx context.Context, _ []string) (any, error) {
			return nil, c.SyncClock(ctx, time.Now())
		},
	})
	r.register(Command{
		Name: "gps", Usage: "<on|off>", Help: "GPS forwarding",
		MinArgs: 1, MaxArgs: 1,
		Run: func(ctx context.Context, args []string) (any, error) {
			on, err := onOff(args[0])
			if err != nil {
				return nil, err
			}
			return nil, c.SetGPS(ctx, on)
		},
	})
	r.register(Command{
		Name: "position", Usage: "<lat> <lon>", Help: "send one GPS position",
		MinArgs: 2, MaxArgs: 2,
		Run: func(ctx context.Context, args []string) (any, error) {
			lat, err1 := strconv.ParseFloat(args[0], 64)
			lon, err2 := strconv.ParseFloat(args[1], 64)
			if err1 != nil || err2 != nil {
				return nil, invalid("position %s %s", args[0], args[1])
			}
			return nil, c.SendPosition(ctx, lat, lon)
		},
	})
	r.register(Command{
		Name: "raw", Usage: "<addr> [hex] [ack]", Help: "read a register, or write hex to it",
		MinArgs: 1, MaxArgs: 3,
		Run: func(ctx context.Context, args []string) (any, error) {
			addr, err := parseAddress(args[0])
			if err != nil {
				return nil, err
			}
			raw := RawRegister{Address: addr}
			if len(args) > 1 {
				if raw.Data, err = hex.DecodeString(args[1]); err != nil {
					return nil, invalid("register value %q", args[1])
				}
				raw.Ack = arg(args, 2) != "noack"
			}
			return r.RawRegister(ctx, raw)
		},
	})
}

// RawCGI sends one uninterpreted cam.cgi call and returns the reply.
// Wi-Fi only.
func (r *Remote) RawCGI(ctx context.Context, cmd RawCommand) (*camcgi.Reply, error) {
	if r.wctl == nil {
		return nil, fmt.Errorf("raw cam.cgi: %w", ErrUnsupported)
	}
	if cmd.Mode == "" {
		return nil, invalid("raw call without mode")
	}
	return r.wctl.Raw(ctx, camcgi.Request{Mode: cmd.Mode, Type: cmd.Type, Value: cmd.Value, Value2: cmd.Value2})
}

// RawRegister reads or writes one register. A read returns the value as
// hex. BLE only.
func (r *Remote) RawRegister(ctx context.Context, reg RawRegister) (string, error) {
	if r.bctl == nil {
		return "", fmt.Errorf("raw register: %w", ErrUnsupported)
	}
	if reg.Data == nil {
		data, err := r.bctl.Read(ctx, reg.Address)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(data), nil
	}
	return "", r.bctl.Write(ctx, reg.Address, reg.Data, reg.Ack)
}

func point(xs, ys string) (int, int, error) {
	x, err := atoi("x", xs)
	if err != nil {
		return 0, 0, err
	}
	y, err := atoi("y", ys)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
