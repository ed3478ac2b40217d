package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// AnomalyLine is one flagged meter reading listed in an alert email
type AnomalyLine struct {
	NIC            string
	Address        string
	Date           string
	ConsumptionKWh float64
	PctVsBaseline  float64
}

// AlertEmail is the aggregated alert sent to one user
type AlertEmail struct {
	To        string
	Name      string
	Anomalies []AnomalyLine
}

var alertTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif;">
<h2>High electricity consumption detected</h2>
<p>Hi {{.Name}}, we found {{len .Anomalies}} unusual reading(s) in your electricity consumption.</p>
{{range $i, $a := .Anomalies}}
<div style="border-left: 4px solid #dc3545; margin: 10px 0; padding: 10px;">
<strong>Meter {{$a.NIC}}</strong><br>
Period: {{$a.Date}}<br>
Consumption: {{printf "%.2f" $a.ConsumptionKWh}} kWh<br>
Change vs. usual: {{printf "%+.1f" $a.PctVsBaseline}}%<br>
{{if $a.Address}}Address: {{$a.Address}}{{end}}
</div>
{{end}}
<p>Check your appliances and consider energy-saving measures.</p>
</body>
</html>
`))

// GmailSender delivers alerts through the Gmail API on behalf of the user
type GmailSender struct {
	baseURL string
	subject string
}

// NewGmailSender creates a sender for the given API base URL
func NewGmailSender(baseURL, subject string) *GmailSender {
	return &GmailSender{
		baseURL: strings.TrimRight(baseURL, "/"),
		subject: subject,
	}
}

// SendAlert sends email from the user's own mailbox to itself
func (s *GmailSender) SendAlert(ctx context.Context, accessToken string, email AlertEmail) error {
	if len(email.Anomalies) == 0 {
		return fmt.Errorf("alert for %s has no anomalies", email.To)
	}

	raw, err := s.buildMessage(email)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]string{
		"raw": base64.URLEncoding.EncodeToString(raw),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/gmail/v1/users/me/messages/send", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send alert email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gmail send returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (s *GmailSender) buildMessage(email AlertEmail) ([]byte, error) {
	var body bytes.Buffer
	if err := alertTemplate.Execute(&body, email); err != nil {
		return nil, fmt.Errorf("failed to render alert email: %w", err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", email.To)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", s.subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.Write(body.Bytes())

	return msg.Bytes(), nil
}
