package ingest

import (
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/WardenScan/go-api/warden"
)

// Parsing structs matching the nmap XML schema. Only one host element is
// held in memory at a time; see ParseNmap.
type nmapHost struct {
	Addresses []nmapAddress  `xml:"address"`
	Hostnames []nmapHostname `xml:"hostnames>hostname"`
	Ports     []nmapPort     `xml:"ports>port"`
	OSMatches []nmapOSMatch  `xml:"os>osmatch"`
}

type nmapAddress struct {
	Addr     string `xml:"addr,attr"`
	AddrType string `xml:"addrtype,attr"`
}

type nmapHostname struct {
	Name string `xml:"name,attr"`
}

type nmapPort struct {
	Protocol string       `xml:"protocol,attr"`
	PortID   int          `xml:"portid,attr"`
	State    nmapState    `xml:"state"`
	Service  nmapService  `xml:"service"`
}

type nmapState struct {
	State string `xml:"state,attr"`
}

type nmapService struct {
	Name      string `xml:"name,attr"`
	Product   string `xml:"product,attr"`
	Version   string `xml:"version,attr"`
	ExtraInfo string `xml:"extrainfo,attr"`
}

type nmapOSMatch struct {
	Name string `xml:"name,attr"`
}

// ParseNmap streams an nmap XML report. For every host element carrying a
// parseable IPv4/IPv6 address it emits one HostRecord followed by one
// ServiceRecord per open port; hosts without an address and ports in any
// state other than "open" are skipped.
func ParseNmap(r io.Reader, emit EmitFunc) error {
	now := time.Now().UTC()
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode nmap xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "host" {
			continue
		}
		var h nmapHost
		if err := dec.DecodeElement(&h, &start); err != nil {
			return fmt.Errorf("decode nmap host element: %w", err)
		}
		if err := emitNmapHost(h, now, emit); err != nil {
			return err
		}
	}
}

func emitNmapHost(h nmapHost, now time.Time, emit EmitFunc) error {
	raw := firstAddress(h.Addresses)
	if raw == "" {
		slog.Debug("Skipping nmap host without address")
		return nil
	}
	ip, err := warden.NormalizeIP(raw)
	if err != nil {
		slog.Debug("Skipping nmap host with unparseable address", "addr", raw)
		return nil
	}

	var hostnames []string
	for _, hn := range h.Hostnames {
		if name := warden.NormalizeHostname(hn.Name); name != "" {
			hostnames = append(hostnames, name)
		}
	}
	primary := ""
	if len(hostnames) > 0 {
		primary = hostnames[0]
	}

	if err := emit(warden.HostRecord{
		IP:              ip,
		PrimaryHostname: primary,
		Hostnames:       sortedUnique(hostnames),
		OSName:          firstOSMatch(h.OSMatches),
		SeenAt:          now,
	}); err != nil {
		return err
	}

	for _, p := range h.Ports {
		if strings.ToLower(p.State.State) != "open" {
			continue
		}
		if p.PortID <= 0 {
			continue
		}
		proto := strings.ToLower(p.Protocol)
		if proto == "" {
			proto = "tcp"
		}
		if err := emit(warden.ServiceRecord{
			HostIP:  ip,
			Proto:   proto,
			Port:    p.PortID,
			Name:    p.Service.Name,
			Product: p.Service.Product,
			Version: p.Service.Version,
			Banner:  p.Service.ExtraInfo,
			SeenAt:  now,
		}); err != nil {
			return err
		}
	}
	return nil
}

// firstAddress returns the first ipv4 or ipv6 address attribute on the host.
func firstAddress(addrs []nmapAddress) string {
	for _, a := range addrs {
		switch strings.ToLower(a.AddrType) {
		case "ipv4", "ipv6":
			return a.Addr
		}
	}
	return ""
}

func firstOSMatch(matches []nmapOSMatch) string {
	if len(matches) == 0 {
		return ""
	}
	return matches[0].Name
}

func sortedUnique(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
