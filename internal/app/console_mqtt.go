package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/relabs-tech/glove_capture/internal/capture"
	"github.com/relabs-tech/glove_capture/internal/config"
	"github.com/relabs-tech/glove_capture/internal/notify"
	"github.com/relabs-tech/glove_capture/internal/result"
)

// RunConsoleMQTT prints session status, uploads and results as they arrive.
func RunConsoleMQTT() error {
	cfg := config.Get()

	client, err := notify.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}

	// Session status
	err = notify.Subscribe(client, cfg.TopicSessionStatus, 0, func(_ string, payload []byte) {
		var u capture.Update
		if err := json.Unmarshal(payload, &u); err != nil {
			log.Printf("console: status unmarshal error: %v", err)
			return
		}
		fmt.Println(formatStatus(u))
	})
	if err != nil {
		return err
	}

	// Uploads
	err = notify.Subscribe(client, cfg.TopicSessionUploaded, 0, func(_ string, payload []byte) {
		var up notify.Uploaded
		if err := json.Unmarshal(payload, &up); err != nil {
			log.Printf("console: upload unmarshal error: %v", err)
			return
		}
		fmt.Printf("[UPLD] key=%s locator=%s at=%s\n", up.Key, up.Locator, up.At.Format("15:04:05"))
	})
	if err != nil {
		return err
	}

	// Results
	err = notify.Subscribe(client, cfg.TopicSessionResult, 0, func(_ string, payload []byte) {
		var res result.Result
		if err := json.Unmarshal(payload, &res); err != nil {
			log.Printf("console: result unmarshal error: %v", err)
			return
		}
		fmt.Println(formatResult(res))
	})
	if err != nil {
		return err
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func formatStatus(u capture.Update) string {
	line := fmt.Sprintf("[SESS] %-9s t=%6.1fs left=%6.1fs", u.State, float64(u.ElapsedMS)/1000, float64(u.RemainingMS)/1000)
	switch u.State {
	case capture.GetReady:
		line += fmt.Sprintf("  countdown=%ds", (u.CountdownMS+999)/1000)
	case capture.Active:
		line += "  cue=" + strings.ToUpper(u.Phase.String())
	}
	if u.Progress != "" {
		line += "  " + u.Progress
	} else if u.Message != "" {
		line += "  " + u.Message
	}
	return line
}

func formatResult(res result.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[RSLT] key=%s outcome=%s polls=%d\n", res.Key, res.Outcome, res.Attempts)
	names := make([]string, 0, len(res.HealthScores))
	for name := range res.HealthScores {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "       %-7s %5.1f\n", name, res.HealthScores[name])
	}
	b.WriteString(res.Message)
	return b.String()
}
