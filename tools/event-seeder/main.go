// event-seeder writes synthetic Sysmon events into the event index so the
// noise analyzer has something to chew on in dev environments. A handful
// of fixed noisy patterns repeat heavily; the rest of the volume is random.
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	opensearch "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

var (
	osURL       = flag.String("url", "https://localhost:9200", "OpenSearch URL")
	username    = flag.String("username", "admin", "OpenSearch username")
	password    = flag.String("password", "", "OpenSearch password")
	insecure    = flag.Bool("insecure", true, "skip TLS verification")
	indexPrefix = flag.String("index-prefix", "sysmonfleet-events", "event index prefix")
	hostCount   = flag.Int("hosts", 5, "number of fake hosts")
	eventCount  = flag.Int("events", 10000, "number of events to generate")
	windowHours = flag.Int("window", 24, "spread events over the last N hours")
	batchSize   = flag.Int("batch", 500, "bulk indexing batch size")
)

type event struct {
	Timestamp string            `json:"timestamp"`
	Hostname  string            `json:"hostname"`
	EventID   int               `json:"event_id"`
	Fields    map[string]string `json:"fields"`
}

func main() {
	flag.Parse()
	gofakeit.Seed(time.Now().UnixNano())

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{*osURL},
		Username:  *username,
		Password:  *password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: *insecure},
		},
	})
	if err != nil {
		log.Fatalf("Failed to create OpenSearch client: %v", err)
	}

	hosts := make([]string, *hostCount)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("ws-%s-%02d", strings.ToLower(gofakeit.LetterN(4)), i+1)
	}
	index := fmt.Sprintf("%s-%s", *indexPrefix, time.Now().Format("2006.01.02"))

	log.Printf("Seeding %d events for %d hosts into %s", *eventCount, len(hosts), index)

	ctx := context.Background()
	var buf bytes.Buffer
	written := 0
	for i := 0; i < *eventCount; i++ {
		ev := generate(hosts)
		meta := fmt.Sprintf(`{"index":{"_index":%q}}`, index)
		doc, err := json.Marshal(ev)
		if err != nil {
			log.Fatalf("Failed to marshal event: %v", err)
		}
		buf.WriteString(meta + "\n")
		buf.Write(doc)
		buf.WriteByte('\n')

		if (i+1)%*batchSize == 0 || i+1 == *eventCount {
			if err := bulkIndex(ctx, client, &buf); err != nil {
				log.Fatalf("Bulk indexing failed: %v", err)
			}
			written = i + 1
			log.Printf("  indexed %d/%d", written, *eventCount)
			buf.Reset()
		}
	}

	log.Printf("Done: %d events indexed", written)
}

func bulkIndex(ctx context.Context, client *opensearch.Client, body *bytes.Buffer) error {
	req := opensearchapi.BulkRequest{Body: bytes.NewReader(body.Bytes())}
	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk request returned %s", res.Status())
	}
	return nil
}

func generate(hosts []string) event {
	hostname := hosts[rand.Intn(len(hosts))]
	ts := time.Now().Add(-time.Duration(rand.Intn(*windowHours*3600)) * time.Second)

	ev := event{
		Timestamp: ts.UTC().Format(time.RFC3339),
		Hostname:  hostname,
	}

	// Roughly 70% of the volume comes from a few repeating patterns so
	// they score as noisy; the rest is random background.
	if rand.Float64() < 0.7 {
		noisy := []event{
			{EventID: 1, Fields: map[string]string{
				"Image":             `C:\Windows\System32\svchost.exe`,
				"CommandLine":       `C:\Windows\System32\svchost.exe -k netsvcs`,
				"ParentImage":       `C:\Windows\System32\services.exe`,
				"User":              "NT AUTHORITY\\SYSTEM",
				"IntegrityLevel":    "System",
				"ParentCommandLine": `C:\Windows\System32\services.exe`,
			}},
			{EventID: 3, Fields: map[string]string{
				"Image":           `C:\Program Files\Agent\agent.exe`,
				"DestinationIp":   "10.0.0.5",
				"DestinationPort": "443",
				"Protocol":        "tcp",
			}},
			{EventID: 22, Fields: map[string]string{
				"QueryName": "telemetry.example.com",
				"Image":     `C:\Program Files\Agent\agent.exe`,
			}},
			{EventID: 7, Fields: map[string]string{
				"Image":       `C:\Windows\System32\svchost.exe`,
				"ImageLoaded": `C:\Windows\System32\ntdll.dll`,
			}},
		}
		pick := noisy[rand.Intn(len(noisy))]
		ev.EventID = pick.EventID
		ev.Fields = pick.Fields
		return ev
	}

	switch rand.Intn(5) {
	case 0:
		ev.EventID = 1
		ev.Fields = map[string]string{
			"Image":       fmt.Sprintf(`C:\Users\%s\AppData\Local\%s.exe`, gofakeit.Username(), gofakeit.AppName()),
			"CommandLine": gofakeit.Sentence(3),
			"ParentImage": `C:\Windows\explorer.exe`,
			"User":        fmt.Sprintf(`CORP\%s`, gofakeit.Username()),
		}
	case 1:
		ev.EventID = 3
		ev.Fields = map[string]string{
			"Image":           fmt.Sprintf(`C:\Program Files\%s\%s.exe`, gofakeit.Company(), gofakeit.AppName()),
			"DestinationIp":   gofakeit.IPv4Address(),
			"DestinationPort": fmt.Sprintf("%d", 1024+rand.Intn(64000)),
			"Protocol":        "tcp",
		}
	case 2:
		ev.EventID = 22
		ev.Fields = map[string]string{
			"QueryName": gofakeit.DomainName(),
			"Image":     `C:\Windows\System32\svchost.exe`,
		}
	case 3:
		ev.EventID = 11
		ev.Fields = map[string]string{
			"TargetFilename": fmt.Sprintf(`C:\Users\%s\Downloads\%s`, gofakeit.Username(), gofakeit.Word()+".tmp"),
			"Image":          `C:\Windows\explorer.exe`,
		}
	default:
		ev.EventID = 7
		ev.Fields = map[string]string{
			"Image":       `C:\Windows\System32\svchost.exe`,
			"ImageLoaded": fmt.Sprintf(`C:\Windows\System32\%s.dll`, gofakeit.Word()),
		}
	}
	return ev
}
