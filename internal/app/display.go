package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/glove_capture/internal/capture"
	"github.com/relabs-tech/glove_capture/internal/config"
	"github.com/relabs-tech/glove_capture/internal/notify"
)

// DisplayData holds the latest session status for the panel.
type DisplayData struct {
	mu     sync.RWMutex
	status capture.Update
	have   bool
}

func (d *DisplayData) set(u capture.Update) {
	d.mu.Lock()
	d.status = u
	d.have = true
	d.mu.Unlock()
}

func (d *DisplayData) get() (capture.Update, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status, d.have
}

// RunDisplay shows the capture session on an SSD1306 panel.
func RunDisplay() error {
	cfg := config.Get()

	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, cfg.DisplayI2CAddr, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Printf("display: initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := drawLines(dev, []string{"", "Glove Capture", "Waiting for", "station..."}); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &DisplayData{}

	client, err := notify.Connect(cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	err = notify.Subscribe(client, cfg.TopicSessionStatus, 0, func(_ string, payload []byte) {
		var u capture.Update
		if err := json.Unmarshal(payload, &u); err != nil {
			log.Printf("display: status unmarshal error: %v", err)
			return
		}
		data.set(u)
	})
	if err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		u, have := data.get()
		if err := drawLines(dev, statusLines(u, have)); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}

// statusLines lays the session status out as up to four 16-column rows.
func statusLines(u capture.Update, have bool) []string {
	if !have {
		return []string{"Session", "Waiting..."}
	}

	lines := []string{strings.ToUpper(strings.ReplaceAll(u.State.String(), "_", " "))}
	switch u.State {
	case capture.GetReady:
		lines = append(lines, fmt.Sprintf("Start in %ds", (u.CountdownMS+999)/1000))
	case capture.Active:
		lines = append(lines, ">> "+strings.ToUpper(u.Phase.String())+" <<")
		lines = append(lines, fmt.Sprintf("T %3ds L %3ds", u.ElapsedMS/1000, u.RemainingMS/1000))
	case capture.Paused:
		lines = append(lines, fmt.Sprintf("T %3ds L %3ds", u.ElapsedMS/1000, u.RemainingMS/1000))
	case capture.Exporting:
		lines = append(lines, "Processing...")
	case capture.Finished:
		if u.Result != nil {
			lines = append(lines, string(u.Result.Outcome))
			lines = append(lines, avgScore(u.Result.HealthScores))
		}
	}

	msg := u.Progress
	if msg == "" {
		msg = u.Message
	}
	if msg != "" && len(lines) < 4 {
		lines = append(lines, msg)
	}
	for i, l := range lines {
		if len(l) > 16 {
			lines[i] = l[:16]
		}
	}
	return lines
}

func avgScore(scores map[string]float64) string {
	if len(scores) == 0 {
		return ""
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return fmt.Sprintf("Avg %.0f%%", sum/float64(len(scores)))
}

func renderLines(lines []string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}

	for i, l := range lines {
		if i >= 4 {
			break
		}
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawBytes([]byte(l))
	}
	return img
}

func drawLines(dev *ssd1306.Dev, lines []string) error {
	img := renderLines(lines)
	return dev.Draw(dev.Bounds(), img, image.Point{})
}
