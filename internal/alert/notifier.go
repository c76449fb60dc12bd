package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fushengyk/tickflow/internal/config"
	"go.uber.org/zap"
)

// Notifier sends alerts to configured channels
type Notifier struct {
	cfg    *config.Config
	logger *zap.SugaredLogger
	client *http.Client
}

// NewNotifier creates a new notifier with resolved channels
func NewNotifier(cfg *config.Config, logger *zap.SugaredLogger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// AlertPayload contains all data needed for notification
type AlertPayload struct {
	Symbol      string
	Timeframe   string
	PriceStart  float64
	PriceEnd    float64
	ChangePct   float64
	Volume      float64
	TradeCount  int64
	TriggerTime time.Time
}

// Send dispatches the alert to the specified channels
func (n *Notifier) Send(payload AlertPayload, channelNames []string) {
	msg := n.formatMessage(payload)

	n.logger.Infof("[Alert] %s %s moved %.2f%%", payload.Symbol, payload.Timeframe, payload.ChangePct)

	for _, chName := range channelNames {
		resolved := n.cfg.ResolveChannel(chName)
		if resolved == nil {
			n.logger.Warnf("Unsupported or unconfigured channel: %s", chName)
			continue // channel disabled or not configured
		}

		go func(ch *config.ResolvedChannel) {
			if err := n.sendToChannel(ch, msg); err != nil {
				n.logger.Errorf("Failed to send to %s (%s): %v", ch.Name, ch.Type, err)
			}
		}(resolved)
	}
}

func (n *Notifier) formatMessage(p AlertPayload) string {
	var sb strings.Builder

	arrow := "↑"
	if p.ChangePct < 0 {
		arrow = "↓"
	}

	sb.WriteString(fmt.Sprintf("🚨 【%s】%s price move 🚨\n", p.Timeframe, p.Symbol))
	sb.WriteString(fmt.Sprintf("💵 %s -> %s %s%.2f%%\n",
		formatPrice(p.PriceStart), formatPrice(p.PriceEnd), arrow, abs(p.ChangePct)))
	sb.WriteString(fmt.Sprintf("📦 Volume: %s | Trades: %d\n", formatPrice(p.Volume), p.TradeCount))
	sb.WriteString(fmt.Sprintf("🕒 %s", p.TriggerTime.UTC().Format("2006-01-02 15:04:05")))

	return sb.String()
}

// formatPrice picks a precision that scales with the magnitude of the value
func formatPrice(price float64) string {
	if price == 0 {
		return "N/A"
	}
	var result string
	switch {
	case price < 0.0001:
		result = fmt.Sprintf("%.8f", price)
	case price < 0.01:
		result = fmt.Sprintf("%.6f", price)
	case price < 1:
		result = fmt.Sprintf("%.5f", price)
	case price < 10:
		result = fmt.Sprintf("%.4f", price)
	case price < 100:
		result = fmt.Sprintf("%.3f", price)
	default:
		result = fmt.Sprintf("%.2f", price)
	}
	// Trim trailing zeros and unnecessary decimal point
	if strings.Contains(result, ".") {
		result = strings.TrimRight(result, "0")
		result = strings.TrimRight(result, ".")
	}
	return result
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func (n *Notifier) sendToChannel(ch *config.ResolvedChannel, msg string) error {
	switch ch.Type {
	case "telegram":
		return n.sendTelegram(ch, msg)
	case "webhook":
		return n.sendWebhook(ch, msg)
	default:
		return fmt.Errorf("unknown channel type: %s", ch.Type)
	}
}

func (n *Notifier) sendTelegram(ch *config.ResolvedChannel, msg string) error {
	if ch.Token == "" || ch.ChatID == "" {
		n.logger.Warnf("Telegram channel %s not configured (missing token or chat_id)", ch.Name)
		return nil // not configured
	}

	apiURL := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", ch.Token)

	body := map[string]interface{}{
		"chat_id": ch.ChatID,
		"text":    msg,
	}

	if ch.ThreadID != "" {
		body["message_thread_id"] = ch.ThreadID
	}

	jsonBody, _ := json.Marshal(body)
	n.logger.Infof("[Telegram] Sending to %s (ChatID: %s, ThreadID: %s)", ch.Name, ch.ChatID, ch.ThreadID)

	resp, err := n.client.Post(apiURL, "application/json", bytes.NewBuffer(jsonBody))
	if err != nil {
		n.logger.Errorf("[Telegram] Failed to send request: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		n.logger.Errorf("[Telegram] API Error: Status %s", resp.Status)
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		n.logger.Errorf("[Telegram] Response Body: %s", buf.String())
		return fmt.Errorf("telegram api error: %s", resp.Status)
	}

	n.logger.Infof("[Telegram] Successfully sent to %s", ch.Name)
	return nil
}

func (n *Notifier) sendWebhook(ch *config.ResolvedChannel, msg string) error {
	if ch.URL == "" {
		n.logger.Warnf("Webhook channel %s missing URL", ch.Name)
		return nil
	}

	n.logger.Infof("[Webhook] Preparing to send to %s (%s %s)", ch.Name, ch.Method, ch.URL)

	// Escape message for JSON
	escapedMsg := strings.ReplaceAll(msg, "\\", "\\\\")
	escapedMsg = strings.ReplaceAll(escapedMsg, "\"", "\\\"")
	escapedMsg = strings.ReplaceAll(escapedMsg, "\n", "\\n")

	var req *http.Request
	var err error

	switch strings.ToUpper(ch.Method) {
	case "GET":
		// Replace {{.Message}} in URL
		finalURL := strings.ReplaceAll(ch.URL, "{{.Message}}", url.QueryEscape(msg))
		req, err = http.NewRequest("GET", finalURL, nil)

	default: // POST
		var bodyBytes []byte
		if ch.Body != "" {
			// Replace {{.Message}} in body template
			finalBody := strings.ReplaceAll(ch.Body, "{{.Message}}", escapedMsg)
			bodyBytes = []byte(finalBody)
		} else {
			// Default JSON body
			d := map[string]string{"text": msg}
			bodyBytes, _ = json.Marshal(d)
		}

		n.logger.Debugf("[Webhook] Body: %s", string(bodyBytes))
		req, err = http.NewRequest("POST", ch.URL, bytes.NewBuffer(bodyBytes))
	}

	if err != nil {
		n.logger.Errorf("[Webhook] Failed to create request: %v", err)
		return err
	}

	// Parse and apply custom headers
	if ch.Headers != "" {
		var headers map[string]string
		if json.Unmarshal([]byte(ch.Headers), &headers) == nil {
			for k, v := range headers {
				req.Header.Set(k, v)
			}
		}
	}

	if req.Header.Get("Content-Type") == "" && ch.Method != "GET" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Errorf("[Webhook] Failed to send request: %v", err)
		return err
	}
	defer resp.Body.Close()

	n.logger.Infof("[Webhook] Response %s from %s", resp.Status, ch.Name)

	if resp.StatusCode >= 400 {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		n.logger.Errorf("[Webhook] Error Body: %s", buf.String())
		return fmt.Errorf("webhook error: %s", resp.Status)
	}
	return nil
}
