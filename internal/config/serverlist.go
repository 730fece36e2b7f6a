package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/ini.v1"

	"github.com/sorz/moproxy-go/internal/core"
)

// ServerListConfig describes how to load the upstream list file (§6) and
// the defaults applied to any key a section leaves unset.
type ServerListConfig struct {
	Path           string
	DefaultTestDNS string
	DefaultMaxWait time.Duration
	ListenPorts    map[uint16]struct{}
	AllowDirect    bool
}

// Load parses c.Path (an INI file, one section per upstream) into a list
// of Upstreams. An empty list is an error unless AllowDirect is set.
func (c ServerListConfig) Load() ([]*core.Upstream, error) {
	if c.Path == "" {
		if !c.AllowDirect {
			return nil, fmt.Errorf("missing server list")
		}
		return nil, nil
	}

	cfg, err := ini.Load(c.Path)
	if err != nil {
		return nil, fmt.Errorf("cannot read server list file: %w", err)
	}

	var servers []*core.Upstream
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection && len(section.Keys()) == 0 {
			continue
		}
		u, err := c.parseSection(section)
		if err != nil {
			return nil, fmt.Errorf("section %q: %w", section.Name(), err)
		}
		servers = append(servers, u)
	}

	if len(servers) == 0 && !c.AllowDirect {
		return nil, fmt.Errorf("missing server list")
	}
	return servers, nil
}

func (c ServerListConfig) parseSection(section *ini.Section) (*core.Upstream, error) {
	addr := section.Key("address").String()
	if addr == "" {
		return nil, fmt.Errorf("address not specified")
	}

	tag := section.Key("tag").String()
	if tag == "" {
		tag = section.Name()
	}

	scoreBase := 0
	if section.HasKey("score base") {
		n, err := section.Key("score base").Int()
		if err != nil {
			return nil, fmt.Errorf("score base not an integer")
		}
		scoreBase = n
	}

	testDNS := section.Key("test dns").MustString(c.DefaultTestDNS)

	maxWait := c.DefaultMaxWait
	if section.HasKey("max wait") {
		secs, err := section.Key("max wait").Int64()
		if err != nil {
			return nil, fmt.Errorf("max wait not a valid number")
		}
		maxWait = time.Duration(secs) * time.Second
	}

	listenPorts, err := parseListenPorts(section, c.ListenPorts, addr)
	if err != nil {
		return nil, err
	}

	proto, err := parseProto(section)
	if err != nil {
		return nil, err
	}

	return core.NewUpstream(tag, addr, proto, testDNS, maxWait, listenPorts, core.CapSet{}, int32(scoreBase)), nil
}

func parseListenPorts(section *ini.Section, allowed map[uint16]struct{}, addr string) (map[uint16]struct{}, error) {
	raw := section.Key("listen ports").String()
	if raw == "" {
		return nil, nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ' ' || r == ',' })
	ports := make(map[uint16]struct{}, len(fields))
	var surplus []string
	for _, f := range fields {
		n, err := strconv.ParseUint(f, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("not a valid port number: %q", f)
		}
		port := uint16(n)
		ports[port] = struct{}{}
		if allowed != nil {
			if _, ok := allowed[port]; !ok {
				surplus = append(surplus, f)
			}
		}
	}
	if len(surplus) > 0 {
		log.Warn().Str("addr", addr).Strs("surplus_ports", surplus).Msg("surplus listen ports not among configured listen ports")
	}
	return ports, nil
}

func parseProto(section *ini.Section) (core.Proto, error) {
	protoName := strings.ToLower(section.Key("protocol").String())
	switch protoName {
	case "socks5", "socksv5":
		fakeHS := section.Key("socks fake handshaking").MustBool(false)
		username := section.Key("socks username").String()
		password := section.Key("socks password").String()
		switch {
		case username == "" && password == "":
			return core.Proto{Kind: core.ProtoSocks5, SocksFakeHandshake: fakeHS}, nil
		case username == "" || password == "":
			return core.Proto{}, fmt.Errorf("socks username/password is empty")
		case len(username) > 255 || len(password) > 255:
			return core.Proto{}, fmt.Errorf("socks username/password too long")
		default:
			return core.Proto{
				Kind:               core.ProtoSocks5,
				SocksFakeHandshake: fakeHS,
				SocksAuth:          &core.UserPassAuth{Username: username, Password: password},
			}, nil
		}

	case "http":
		allowPayload := section.Key("http allow connect payload").MustBool(false)
		username := section.Key("http username").String()
		password := section.Key("http password").String()
		var auth *core.UserPassAuth
		if username != "" || password != "" {
			if strings.Contains(username, ":") {
				return core.Proto{}, fmt.Errorf("colon (:) in http username")
			}
			auth = &core.UserPassAuth{Username: username, Password: password}
		}
		return core.Proto{Kind: core.ProtoHTTP, HTTPAllowConnectPayload: allowPayload, HTTPAuth: auth}, nil

	case "":
		return core.Proto{}, fmt.Errorf("protocol not specified")
	default:
		return core.Proto{}, fmt.Errorf("unknown proxy protocol %q", protoName)
	}
}
