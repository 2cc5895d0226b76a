package ingest

import (
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/WardenScan/go-api/warden"
)

// severityByCode maps the nessus numeric severity attribute onto our levels.
// Unknown codes fall back to info.
var severityByCode = map[string]warden.Severity{
	"0": warden.SeverityInfo,
	"1": warden.SeverityLow,
	"2": warden.SeverityMedium,
	"3": warden.SeverityHigh,
	"4": warden.SeverityCritical,
}

type nessusReportHost struct {
	Name  string             `xml:"name,attr"`
	Tags  []nessusTag        `xml:"HostProperties>tag"`
	Items []nessusReportItem `xml:"ReportItem"`
}

type nessusTag struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type nessusReportItem struct {
	Port         int    `xml:"port,attr"`
	SvcName      string `xml:"svc_name,attr"`
	Protocol     string `xml:"protocol,attr"`
	Severity     string `xml:"severity,attr"`
	PluginID     string `xml:"pluginID,attr"`
	PluginName   string `xml:"pluginName,attr"`
	PluginFamily string `xml:"pluginFamily,attr"`
	Description  string `xml:"description"`
	Solution     string `xml:"solution"`
	PluginOutput string `xml:"plugin_output"`
	SeeAlso      string `xml:"see_also"`
	CVEs         []string `xml:"cve"`
	BIDs         []string `xml:"bid"`
}

// ParseNessus streams a nessus (.nessus v2) report. For every ReportHost
// that resolves to an IP address it emits one HostRecord, then per
// ReportItem a ServiceRecord when the item carries a positive port, and a
// FindingRecord plus OccurrenceRecord for the plugin. The reconciler
// collapses the repeated FindingRecords a report emits for one plugin.
func ParseNessus(r io.Reader, emit EmitFunc) error {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("decode nessus xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "ReportHost" {
			continue
		}
		var rh nessusReportHost
		if err := dec.DecodeElement(&rh, &start); err != nil {
			return fmt.Errorf("decode nessus ReportHost element: %w", err)
		}
		if err := emitNessusHost(rh, emit); err != nil {
			return err
		}
	}
}

func emitNessusHost(rh nessusReportHost, emit EmitFunc) error {
	now := time.Now().UTC()

	// Address precedence: the host-ip property, then the ReportHost name
	// attribute parsed as a literal, otherwise the host is skipped. A
	// non-address name is only ever a candidate hostname, never an identity.
	var rawIP string
	var hostnames []string
	for _, tag := range rh.Tags {
		val := strings.TrimSpace(tag.Value)
		if val == "" {
			continue
		}
		switch tag.Name {
		case "host-ip":
			rawIP = val
		case "host-fqdn", "netbios-name":
			if hn := warden.NormalizeHostname(val); hn != "" {
				hostnames = append(hostnames, hn)
			}
		}
	}

	if rawIP == "" {
		rawIP = rh.Name
	}
	ip, err := warden.NormalizeIP(rawIP)
	if err != nil {
		if hn := warden.NormalizeHostname(rh.Name); hn != "" {
			hostnames = append(hostnames, hn)
		}
		slog.Debug("Skipping nessus report host without address", "candidates", hostnames)
		return nil
	}

	hostnames = sortedUnique(hostnames)
	primary := ""
	if len(hostnames) > 0 {
		primary = hostnames[0]
	}

	if err := emit(warden.HostRecord{
		IP:              ip,
		PrimaryHostname: primary,
		Hostnames:       hostnames,
		SeenAt:          now,
	}); err != nil {
		return err
	}

	for _, item := range rh.Items {
		if item.PluginID == "" {
			continue
		}
		if err := emitNessusItem(ip, item, now, emit); err != nil {
			return err
		}
	}
	return nil
}

func emitNessusItem(ip string, item nessusReportItem, now time.Time, emit EmitFunc) error {
	proto := strings.ToLower(item.Protocol)
	if proto == "" {
		proto = "tcp"
	}

	// A zero port means the plugin fired at host level; no service row and
	// no service binding on the occurrence.
	if item.Port > 0 {
		if err := emit(warden.ServiceRecord{
			HostIP:  ip,
			Proto:   proto,
			Port:    item.Port,
			Name:    item.SvcName,
			Product: item.PluginFamily,
			SeenAt:  now,
		}); err != nil {
			return err
		}
	}

	severity, ok := severityByCode[item.Severity]
	if !ok {
		severity = warden.SeverityInfo
	}
	title := item.PluginName
	if title == "" {
		title = "Nessus plugin " + item.PluginID
	}

	var refs []string
	if v := strings.TrimSpace(item.SeeAlso); v != "" {
		refs = append(refs, "see_also:"+v)
	}
	if v := firstNonEmpty(item.CVEs); v != "" {
		refs = append(refs, "cve:"+v)
	}
	if v := firstNonEmpty(item.BIDs); v != "" {
		refs = append(refs, "bid:"+v)
	}

	findingKey := "nessus:" + item.PluginID
	if err := emit(warden.FindingRecord{
		FindingKey:  findingKey,
		Title:       title,
		Severity:    severity,
		Description: strings.TrimSpace(item.Description),
		Remediation: strings.TrimSpace(item.Solution),
		References:  refs,
		Scanner:     "nessus",
		ScannerID:   item.PluginID,
	}); err != nil {
		return err
	}

	occ := warden.OccurrenceRecord{
		FindingKey:      findingKey,
		HostIP:          ip,
		EvidenceSnippet: warden.TruncateEvidence(strings.TrimSpace(item.PluginOutput)),
		Status:          warden.StatusOpen,
		SeenAt:          now,
	}
	if item.Port > 0 {
		occ.ServiceProto = proto
		occ.ServicePort = item.Port
	}
	return emit(occ)
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			return t
		}
	}
	return ""
}
