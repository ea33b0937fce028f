// Package connector implements protocol connectors for banking-core
// systems. The FLEXCUBE connector is the reference implementation: a
// session-oriented SOAP/XML connector with heartbeat supervision.
package connector

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/opencompliance/corelink/internal/domain"
)

const (
	soap11Namespace = "http://schemas.xmlsoap.org/soap/envelope/"
	soap12Namespace = "http://www.w3.org/2003/05/soap-envelope"

	defaultNamespace = "http://fcubs.ofss.com/service"
)

// envelopeInput carries everything needed to render one request envelope.
type envelopeInput struct {
	Service      string
	Operation    string
	MessageID    string
	SessionToken string
	Username     string
	Password     string
	Options      *domain.WireOptions
	Data         map[string]any
	Timestamp    time.Time
}

// buildEnvelope renders a SOAP request. The header block carries the
// routing and session fields the core expects; the body carries the
// operation payload as nested elements.
func buildEnvelope(cfg domain.ConnectorConfig, in envelopeInput) string {
	envNS := soap11Namespace
	if cfg.SOAPVersion == "1.2" {
		envNS = soap12Namespace
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = defaultNamespace
	}

	var b strings.Builder
	b.WriteString(xml.Header)
	fmt.Fprintf(&b, `<soapenv:Envelope xmlns:soapenv=%q xmlns:fcub=%q>`, envNS, ns)

	b.WriteString("<soapenv:Header><fcub:FCUBS_HEADER>")
	writeElement(&b, "SOURCE", cfg.SourceCode)
	writeElement(&b, "UBSCOMP", "FCUBS")
	writeElement(&b, "BRANCH", cfg.BranchCode)
	writeElement(&b, "SERVICE", in.Service)
	writeElement(&b, "OPERATION", in.Operation)
	writeElement(&b, "MSGID", in.MessageID)
	writeElement(&b, "TIMESTAMP", in.Timestamp.UTC().Format(time.RFC3339))
	if in.SessionToken != "" {
		writeElement(&b, "SESSION", in.SessionToken)
	}
	if in.Username != "" {
		writeElement(&b, "USERID", in.Username)
		writeElement(&b, "PASSWORD", in.Password)
	}
	// Caller execution hints travel in the header as Y/N flags, the
	// convention the core uses for its own optional header fields.
	if in.Options != nil {
		if in.Options.Async {
			writeElement(&b, "ASYNC", "Y")
		}
		if in.Options.Priority != "" {
			writeElement(&b, "PRIORITY", strings.ToUpper(in.Options.Priority))
		}
		if in.Options.ValidateOnly {
			writeElement(&b, "VALIDATE_ONLY", "Y")
		}
	}
	b.WriteString("</fcub:FCUBS_HEADER></soapenv:Header>")

	b.WriteString("<soapenv:Body><fcub:FCUBS_BODY>")
	writeData(&b, in.Data)
	b.WriteString("</fcub:FCUBS_BODY></soapenv:Body>")

	b.WriteString("</soapenv:Envelope>")
	return b.String()
}

func writeElement(b *strings.Builder, name, value string) {
	b.WriteString("<fcub:" + name + ">")
	xml.EscapeText(b, []byte(value))
	b.WriteString("</fcub:" + name + ">")
}

// writeData renders a payload map as XML elements. Keys are emitted in
// sorted order so envelopes are reproducible.
func writeData(b *strings.Builder, data map[string]any) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := data[k].(type) {
		case map[string]any:
			b.WriteString("<fcub:" + k + ">")
			writeData(b, v)
			b.WriteString("</fcub:" + k + ">")
		case []any:
			for _, item := range v {
				if m, ok := item.(map[string]any); ok {
					b.WriteString("<fcub:" + k + ">")
					writeData(b, m)
					b.WriteString("</fcub:" + k + ">")
				} else {
					writeElement(b, k, stringify(item))
				}
			}
		case nil:
			// Omitted rather than sent as an empty element.
		default:
			writeElement(b, k, stringify(v))
		}
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// soapFault is the normalized fault content of a response envelope.
type soapFault struct {
	Code   string
	Reason string
}

// parseEnvelope decodes a response envelope into a generic element tree
// and extracts a fault if one is present. Namespace prefixes are dropped
// so callers address elements by local name.
func parseEnvelope(payload []byte) (map[string]any, *soapFault, error) {
	tree, err := xmlToMap(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse response envelope: %w", err)
	}

	envelope, ok := tree["Envelope"].(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("response has no SOAP envelope")
	}
	body, ok := envelope["Body"].(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("response envelope has no body")
	}

	if rawFault, ok := body["Fault"].(map[string]any); ok {
		fault := &soapFault{}
		// SOAP 1.1 uses faultcode/faultstring, 1.2 nests Code/Reason.
		if code, ok := rawFault["faultcode"].(string); ok {
			fault.Code = code
		} else if code, ok := rawFault["Code"].(map[string]any); ok {
			fault.Code, _ = code["Value"].(string)
		}
		if reason, ok := rawFault["faultstring"].(string); ok {
			fault.Reason = reason
		} else if reason, ok := rawFault["Reason"].(map[string]any); ok {
			fault.Reason, _ = reason["Text"].(string)
		}
		return body, fault, nil
	}

	return body, nil, nil
}

// xmlToMap decodes an XML document into nested maps keyed by local element
// name. Repeated sibling elements collapse into a []any; leaf elements
// become their text content.
func xmlToMap(payload []byte) (map[string]any, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(payload)))

	root := make(map[string]any)
	var stack []map[string]any
	stack = append(stack, root)
	var textStack []*strings.Builder
	textStack = append(textStack, &strings.Builder{})

	for {
		tok, err := decoder.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, make(map[string]any))
			textStack = append(textStack, &strings.Builder{})

		case xml.CharData:
			textStack[len(textStack)-1].Write(t)

		case xml.EndElement:
			child := stack[len(stack)-1]
			text := strings.TrimSpace(textStack[len(textStack)-1].String())
			stack = stack[:len(stack)-1]
			textStack = textStack[:len(textStack)-1]

			parent := stack[len(stack)-1]
			name := t.Name.Local

			var value any
			if len(child) > 0 {
				value = child
			} else {
				value = text
			}

			if existing, ok := parent[name]; ok {
				if list, ok := existing.([]any); ok {
					parent[name] = append(list, value)
				} else {
					parent[name] = []any{existing, value}
				}
			} else {
				parent[name] = value
			}
		}
	}

	return root, nil
}
