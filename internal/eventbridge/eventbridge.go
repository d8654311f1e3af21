// Package eventbridge forwards connector events to an MQTT broker so
// dashboards and remote UIs can follow an instrument live. Each event
// type maps to a subtopic under the configured prefix and is published
// as a small JSON document.
package eventbridge

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lucerna-optics/flowscan/internal/connector"
)

// Logf is the logging function used by the bridge. Tests can replace
// it to silence or capture output.
var Logf = log.Printf

const (
	connectTimeout = 5 * time.Second
	publishQoS     = 1
)

// Options configures a Bridge.
type Options struct {
	// Broker is the address of the MQTT broker, host:port.
	Broker string
	// ClientID identifies this instrument to the broker.
	ClientID string
	// TopicPrefix is prepended to every event subtopic, e.g.
	// "flowscan/bench-2".
	TopicPrefix string
}

// Bridge subscribes to a connector and republishes its events over
// MQTT until stopped.
type Bridge struct {
	client mqtt.Client
	prefix string

	c     *connector.Connector
	subID string
	done  chan struct{}
}

// New connects to the broker and starts forwarding events from c.
func New(c *connector.Connector, opts Options) (*Bridge, error) {
	mqttOpts := mqtt.NewClientOptions()
	mqttOpts.AddBroker(fmt.Sprintf("tcp://%s", opts.Broker))
	mqttOpts.SetClientID(opts.ClientID)
	mqttOpts.SetAutoReconnect(true)
	mqttOpts.SetConnectRetryInterval(2 * time.Second)
	mqttOpts.SetMaxReconnectInterval(30 * time.Second)
	mqttOpts.OnConnect = func(mqtt.Client) {
		Logf("[eventbridge] connected to broker %s", opts.Broker)
	}
	mqttOpts.OnConnectionLost = func(_ mqtt.Client, err error) {
		Logf("[eventbridge] connection lost, will reconnect: %v", err)
	}

	client := mqtt.NewClient(mqttOpts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout to %s", opts.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	b := &Bridge{
		client: client,
		prefix: opts.TopicPrefix,
		c:      c,
		done:   make(chan struct{}),
	}
	id, events := c.Subscribe()
	b.subID = id
	go b.forward(events)
	return b, nil
}

// Stop detaches from the connector and disconnects from the broker.
func (b *Bridge) Stop() {
	b.c.Unsubscribe(b.subID)
	<-b.done
	b.client.Disconnect(250)
}

func (b *Bridge) forward(events <-chan connector.Event) {
	defer close(b.done)
	for ev := range events {
		topic, payload := translate(ev)
		if topic == "" {
			continue
		}
		b.publishJSON(b.prefix+"/"+topic, payload)
	}
}

func (b *Bridge) publishJSON(topic string, obj interface{}) {
	msg, err := json.Marshal(obj)
	if err != nil {
		Logf("[eventbridge] marshal for %s failed: %v", topic, err)
		return
	}
	b.client.Publish(topic, publishQoS, false, msg)
}

// translate maps a connector event to its subtopic and JSON payload.
// Events with no remote consumer map to an empty topic and are
// dropped.
func translate(ev connector.Event) (string, interface{}) {
	switch e := ev.(type) {
	case connector.StateChanged:
		return "state", map[string]string{"state": e.State.String()}
	case connector.ConnectionChanged:
		return "connection", map[string]interface{}{
			"target":    string(e.Target),
			"port":      e.Port,
			"connected": e.Connected,
		}
	case connector.ProgressUpdated:
		return "capture/progress", map[string]int{"percent": e.Percent}
	case connector.LogLine:
		return "capture/log", map[string]string{"text": e.Text}
	case connector.SessionFinished:
		return "capture/finished", map[string]interface{}{
			"ok":        e.OK,
			"error":     e.Error,
			"leftPath":  e.LeftPath,
			"rightPath": e.RightPath,
		}
	case connector.ConfigProgress:
		return "config/progress", map[string]int{"percent": e.Percent}
	case connector.ConfigFinished:
		return "config/finished", map[string]interface{}{"ok": e.OK, "error": e.Error}
	case connector.TriggerStateChanged:
		return "trigger", map[string]string{"state": e.State}
	case connector.LaserStateChanged:
		return "laser", map[string]bool{"on": e.On}
	case connector.SafetyFailureChanged:
		return "safety", map[string]interface{}{"failed": e.Failed, "status": e.Status}
	case connector.TelemetryUpdated:
		return "telemetry", map[string]interface{}{
			"tecVoltage": e.TECVoltage,
			"tecObjectC": e.TECObjectC,
			"tecSinkC":   e.TECSinkC,
			"rail5V":     e.Rail5V,
			"rail12V":    e.Rail12V,
			"laserMA":    e.LaserMA,
			"fsync":      e.FsyncCount,
			"lsync":      e.LsyncCount,
		}
	default:
		return "", nil
	}
}
