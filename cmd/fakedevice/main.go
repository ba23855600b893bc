package main

import (
	"context"
	"encoding/json"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
	"nuha.dev/devicerelay/internal/relay"
	"nuha.dev/devicerelay/internal/webstream"
)

type location struct {
	DeviceID  string  `json:"deviceId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
}

type testMessage struct {
	DeviceID  string `json:"deviceId"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func send(ctx context.Context, c *websocket.Conn, typ string, v interface{}) error {
	d, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return wsjson.Write(ctx, c, relay.Frame{Type: typ, Data: d})
}

func main() {
	url := flag.String("url", "ws://localhost:8000/socket", "relay websocket url")
	device_id := flag.String("device", "fake-1", "device id to report as")
	interval := flag.Duration("interval", 2*time.Second, "interval between location updates")
	lat := flag.Float64("lat", 17.385, "starting latitude")
	lon := flag.Float64("lon", 78.4867, "starting longitude")
	flag.Parse()
	log.DefaultLogger.Level = log.DebugLevel

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c, _, err := websocket.Dial(ctx, *url, nil)
	if err != nil {
		log.Fatal().Err(err).Str("url", *url).Msg("dial failed")
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	if err = send(ctx, c, webstream.CRegister, map[string]string{"deviceId": *device_id}); err != nil {
		log.Fatal().Err(err).Msg("register failed")
	}
	if err = send(ctx, c, webstream.CTestMessage, testMessage{DeviceID: *device_id, Message: "hello", Timestamp: time.Now().UnixMilli()}); err != nil {
		log.Fatal().Err(err).Msg("test message failed")
	}

	go func() {
		for {
			var f relay.Frame
			if err := wsjson.Read(ctx, c, &f); err != nil {
				log.Info().Err(err).Msg("read loop stopped")
				stop()
				return
			}
			log.Debug().Str("type", f.Type).RawJSON("data", f.Data).Msg("frame")
		}
	}()

	t := time.NewTicker(*interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		*lat += (rand.Float64() - 0.5) / 1000
		*lon += (rand.Float64() - 0.5) / 1000
		l := location{DeviceID: *device_id, Latitude: *lat, Longitude: *lon, Accuracy: 5, Timestamp: time.Now().UnixMilli()}
		if err := send(ctx, c, webstream.CLocationUpdate, l); err != nil {
			log.Error().Err(err).Msg("location update failed")
			return
		}
	}
}
