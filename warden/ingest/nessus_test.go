package ingest

import (
	"reflect"
	"strings"
	"testing"

	"github.com/WardenScan/go-api/warden"
)

func kindsOf(records []warden.Record) map[warden.RecordKind]int {
	out := map[warden.RecordKind]int{}
	for _, rec := range records {
		out[rec.Kind()]++
	}
	return out
}

func TestParseNessusFixture(t *testing.T) {
	records := collectRecords(t, "nessus", "scan.nessus")

	// web-01 and 192.168.7.9 resolve to addresses; printer.example.com has
	// neither a host-ip tag nor an address name and is skipped wholesale.
	// The item without a pluginID is skipped too.
	counts := kindsOf(records)
	if counts[warden.KindHost] != 2 {
		t.Errorf("hosts = %d, want 2", counts[warden.KindHost])
	}
	if counts[warden.KindService] != 3 {
		t.Errorf("services = %d, want 3", counts[warden.KindService])
	}
	if counts[warden.KindFinding] != 4 {
		t.Errorf("findings = %d, want 4", counts[warden.KindFinding])
	}
	if counts[warden.KindOccurrence] != 4 {
		t.Errorf("occurrences = %d, want 4", counts[warden.KindOccurrence])
	}

	host, ok := records[0].(warden.HostRecord)
	if !ok {
		t.Fatalf("records[0] = %T, want HostRecord", records[0])
	}
	if host.IP != "10.0.0.5" {
		t.Errorf("host.IP = %q, want host-ip tag value", host.IP)
	}
	if want := []string{"web-01", "web-01.example.com"}; !reflect.DeepEqual(host.Hostnames, want) {
		t.Errorf("host.Hostnames = %v, want %v", host.Hostnames, want)
	}
	if host.PrimaryHostname != "web-01" {
		t.Errorf("host.PrimaryHostname = %q, want first sorted hostname", host.PrimaryHostname)
	}
}

func TestParseNessusBoundItem(t *testing.T) {
	records := collectRecords(t, "nessus", "scan.nessus")

	svc, ok := records[1].(warden.ServiceRecord)
	if !ok {
		t.Fatalf("records[1] = %T, want ServiceRecord", records[1])
	}
	if svc.HostIP != "10.0.0.5" || svc.Proto != "tcp" || svc.Port != 443 {
		t.Errorf("service identity = %s/%s/%d, want 10.0.0.5/tcp/443", svc.HostIP, svc.Proto, svc.Port)
	}
	if svc.Name != "www" || svc.Product != "General" {
		t.Errorf("service detail = %+v", svc)
	}

	finding, ok := records[2].(warden.FindingRecord)
	if !ok {
		t.Fatalf("records[2] = %T, want FindingRecord", records[2])
	}
	if finding.FindingKey != "nessus:51192" {
		t.Errorf("FindingKey = %q, want nessus:51192", finding.FindingKey)
	}
	if finding.Severity != warden.SeverityMedium {
		t.Errorf("Severity = %q, want medium", finding.Severity)
	}
	if finding.Scanner != "nessus" || finding.ScannerID != "51192" {
		t.Errorf("scanner fields = %q/%q", finding.Scanner, finding.ScannerID)
	}
	wantRefs := []string{
		"see_also:https://www.itu.int/rec/T-REC-X.509/en",
		"cve:CVE-2004-2761",
		"bid:33065",
	}
	if !reflect.DeepEqual(finding.References, wantRefs) {
		t.Errorf("References = %v, want %v", finding.References, wantRefs)
	}

	occ, ok := records[3].(warden.OccurrenceRecord)
	if !ok {
		t.Fatalf("records[3] = %T, want OccurrenceRecord", records[3])
	}
	if !occ.HasService() || occ.ServiceProto != "tcp" || occ.ServicePort != 443 {
		t.Errorf("occurrence binding = %q/%d, want tcp/443", occ.ServiceProto, occ.ServicePort)
	}
	if occ.Status != warden.StatusOpen {
		t.Errorf("occurrence status = %q, want open", occ.Status)
	}
	if occ.EvidenceSnippet != "The following certificate was at the top of the chain." {
		t.Errorf("EvidenceSnippet = %q", occ.EvidenceSnippet)
	}
}

func TestParseNessusHostLevelItem(t *testing.T) {
	records := collectRecords(t, "nessus", "scan.nessus")

	// plugin 10267 fired at port 0: a finding and an unbound occurrence,
	// but no service row
	var finding warden.FindingRecord
	var occ warden.OccurrenceRecord
	foundFinding, foundOcc := false, false
	for _, rec := range records {
		switch r := rec.(type) {
		case warden.ServiceRecord:
			if r.Port == 0 {
				t.Errorf("port-0 item emitted a service: %+v", r)
			}
		case warden.FindingRecord:
			if r.FindingKey == "nessus:10267" {
				finding, foundFinding = r, true
			}
		case warden.OccurrenceRecord:
			if r.FindingKey == "nessus:10267" {
				occ, foundOcc = r, true
			}
		}
	}
	if !foundFinding || !foundOcc {
		t.Fatalf("plugin 10267 records missing: finding=%v occurrence=%v", foundFinding, foundOcc)
	}
	if finding.Title != "Nessus plugin 10267" {
		t.Errorf("Title = %q, want synthesized fallback", finding.Title)
	}
	if finding.Severity != warden.SeverityInfo {
		t.Errorf("Severity = %q, want info", finding.Severity)
	}
	if occ.HasService() {
		t.Errorf("host-level occurrence bound to service %s/%d", occ.ServiceProto, occ.ServicePort)
	}
	if occ.EvidenceSnippet != "SSH-2.0-OpenSSH_9.6" {
		t.Errorf("EvidenceSnippet = %q", occ.EvidenceSnippet)
	}
}

func TestParseNessusUnknownSeverityCode(t *testing.T) {
	records := collectRecords(t, "nessus", "scan.nessus")
	for _, rec := range records {
		if f, ok := rec.(warden.FindingRecord); ok && f.FindingKey == "nessus:90317" {
			if f.Severity != warden.SeverityInfo {
				t.Errorf("unknown severity code mapped to %q, want info", f.Severity)
			}
			return
		}
	}
	t.Fatal("finding nessus:90317 not emitted")
}

func TestParseNessusNameAttrAsAddress(t *testing.T) {
	records := collectRecords(t, "nessus", "scan.nessus")
	for _, rec := range records {
		if h, ok := rec.(warden.HostRecord); ok && h.IP == "192.168.7.9" {
			if h.PrimaryHostname != "" {
				t.Errorf("address-named host got hostname %q", h.PrimaryHostname)
			}
			return
		}
	}
	t.Fatal("ReportHost named by a literal address was not emitted")
}

func TestParseNessusEvidenceTruncation(t *testing.T) {
	long := strings.Repeat("x", warden.MaxEvidenceLen+500)
	doc := `<NessusClientData_v2><Report><ReportHost name="10.1.1.1">
<ReportItem port="0" protocol="tcp" severity="0" pluginID="1" pluginName="p">
<plugin_output>` + long + `</plugin_output>
</ReportItem></ReportHost></Report></NessusClientData_v2>`

	var occ *warden.OccurrenceRecord
	err := ParseNessus(strings.NewReader(doc), func(rec warden.Record) error {
		if o, ok := rec.(warden.OccurrenceRecord); ok {
			occ = &o
		}
		return nil
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if occ == nil {
		t.Fatal("no occurrence emitted")
	}
	if got := len([]rune(occ.EvidenceSnippet)); got != warden.MaxEvidenceLen {
		t.Errorf("evidence length = %d, want %d", got, warden.MaxEvidenceLen)
	}
}
