// Command command-listener stands in for devices during manual testing. It
// subscribes to the command topics, records what it receives and serves the
// log over HTTP.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type message struct {
	Timestamp string `json:"timestamp"`
	Topic     string `json:"topic"`
	DeviceID  string `json:"device_id"`
	Command   string `json:"command"`
	Payload   string `json:"payload"`
}

type stats struct {
	Count        int64             `json:"count"`
	States       map[string]string `json:"states"`
	LastMessages []message         `json:"last_messages"`
	Since        string            `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	states       = map[string]string{}
	lastMessages []message
	since        time.Time
	maxStored    = 50
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	since = time.Now().UTC()

	addr := envOr("ADDR", ":8081")
	broker := envOr("MQTT_BROKER", "tcp://localhost:1883")
	filter := envOr("TOPIC_FILTER", "devices/+/commands")

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(envOr("MQTT_CLIENT_ID", "command-listener")).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			// Resubscribe after every reconnect; the session is clean.
			if t := c.Subscribe(filter, 1, onMessage); t.Wait() && t.Error() != nil {
				log.Printf("subscribe %s: %v", filter, t.Error())
				return
			}
			log.Printf("subscribed to %s", filter)
		})
	if u := os.Getenv("MQTT_USERNAME"); u != "" {
		opts.SetUsername(u)
		opts.SetPassword(os.Getenv("MQTT_PASSWORD"))
	}

	client := mqtt.NewClient(opts)
	if t := client.Connect(); t.Wait() && t.Error() != nil {
		log.Fatalf("connect to %s: %v", broker, t.Error())
	}
	defer client.Disconnect(250)

	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		states = map[string]string{}
		lastMessages = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("command-listener listening on %s (broker %s)", addr, broker)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// deviceFromTopic extracts the segment matched by the single-level
// wildcard, e.g. "fan1" from devices/fan1/commands.
func deviceFromTopic(filter, topic string) string {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, p := range fp {
		if p == "+" && i < len(tp) {
			return tp[i]
		}
	}
	return topic
}

func onMessage(_ mqtt.Client, m mqtt.Message) {
	var body struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(m.Payload(), &body); err != nil {
		log.Printf("malformed payload on %s: %s", m.Topic(), m.Payload())
	}

	msg := message{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Topic:     m.Topic(),
		DeviceID:  deviceFromTopic(envOr("TOPIC_FILTER", "devices/+/commands"), m.Topic()),
		Command:   body.Command,
		Payload:   string(m.Payload()),
	}

	mu.Lock()
	count++
	if msg.Command != "" {
		states[msg.DeviceID] = msg.Command
	}
	lastMessages = append(lastMessages, msg)
	if len(lastMessages) > maxStored {
		lastMessages = lastMessages[len(lastMessages)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("command #%d: %s -> %s", current, msg.DeviceID, msg.Command)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	snapshot := make(map[string]string, len(states))
	for k, v := range states {
		snapshot[k] = v
	}
	s := stats{
		Count:        count,
		States:       snapshot,
		LastMessages: lastMessages,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
