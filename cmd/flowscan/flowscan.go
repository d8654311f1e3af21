package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lucerna-optics/flowscan/internal/connector"
	"github.com/lucerna-optics/flowscan/internal/eventbridge"
	"github.com/lucerna-optics/flowscan/internal/hardware"
	"github.com/lucerna-optics/flowscan/internal/histo"
	"github.com/lucerna-optics/flowscan/internal/runlog"
	"github.com/lucerna-optics/flowscan/internal/version"
)

var (
	devMode      = flag.Bool("dev", false, "Run with simulated hardware")
	dbFile       = flag.String("db", "flowscan.db", "Run-log database file")
	dataDir      = flag.String("data-dir", "scan_data", "Scan output directory")
	laserParams  = flag.String("laser-params", "", "Laser power parameter JSON (optional)")
	mqttBroker   = flag.String("mqtt", "", "MQTT broker host:port for the event bridge (optional)")
	mqttTopic    = flag.String("mqtt-topic", "flowscan", "MQTT topic prefix")
	runCapture   = flag.Bool("capture", false, "Run one capture session and exit")
	subjectID    = flag.String("subject", "", "Subject ID for -capture (generated if empty)")
	durationSec  = flag.Int("duration", 30, "Capture duration in seconds")
	leftMask     = flag.Uint("left-mask", 0x01, "Left camera bitmask")
	rightMask    = flag.Uint("right-mask", 0x00, "Right camera bitmask")
	disableLaser = flag.Bool("disable-laser", false, "Capture without the laser")
	showVersion  = flag.Bool("version", false, "Print build information and exit")
)

// simulate pushes encoded histogram packets into a mock sensor while
// it is streaming, standing in for device firmware in dev mode.
func simulate(sensor *hardware.MockSensor, camID uint8, stop <-chan struct{}) {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	var frame uint8
	var blk histo.EncodeBlock
	blk.CamID = camID
	blk.Temperature = 36.5
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !sensor.Streaming() {
				continue
			}
			blk.FrameID = frame
			for i := range blk.Bins {
				blk.Bins[i] = uint32(i) & 0x00FFFFFF
			}
			ms := uint32(time.Now().UnixMilli() & 0xFFFFFFFF)
			sensor.Push(histo.Encode([]histo.EncodeBlock{blk}, &ms))
			frame++
		}
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("flowscan", version.String())
		return
	}

	if !*devMode {
		log.Fatal("no hardware transport configured in this build; run with -dev")
	}

	store, err := runlog.Open(*dbFile)
	if err != nil {
		log.Fatalf("failed to open run log: %v", err)
	}
	defer store.Close()

	console := hardware.NewMockConsole()
	left := hardware.NewMockSensor()
	right := hardware.NewMockSensor()
	// a clean interlock so the poller sees no fault
	console.SetI2C(1, 6, 0x41, 0x24, []byte{0x00})
	console.SetI2C(1, 7, 0x41, 0x24, []byte{0x00})

	c, err := connector.New(connector.Options{
		Console: console,
		Sensors: map[hardware.Side]hardware.SensorChannel{
			hardware.SideLeft:  left,
			hardware.SideRight: right,
		},
		RunLog:          store,
		DataDir:         *dataDir,
		LaserParamsPath: *laserParams,
	})
	if err != nil {
		log.Fatalf("failed to build connector: %v", err)
	}
	defer c.Shutdown()

	stop := make(chan struct{})
	defer close(stop)
	go simulate(left, 0, stop)
	go simulate(right, 1, stop)

	_, events := c.Subscribe()
	finished := make(chan connector.SessionFinished, 1)
	go func() {
		for ev := range events {
			switch e := ev.(type) {
			case connector.StateChanged:
				log.Printf("state: %s", e.State)
			case connector.LogLine:
				log.Printf("log: %s", e.Text)
			case connector.ProgressUpdated:
				log.Printf("progress: %d%%", e.Percent)
			case connector.SessionFinished:
				log.Printf("session finished: ok=%v err=%q left=%s right=%s",
					e.OK, e.Error, e.LeftPath, e.RightPath)
				select {
				case finished <- e:
				default:
				}
			case connector.SafetyFailureChanged:
				log.Printf("safety: failed=%v %s", e.Failed, e.Status)
			}
		}
	}()

	var bridge *eventbridge.Bridge
	if *mqttBroker != "" {
		bridge, err = eventbridge.New(c, eventbridge.Options{
			Broker:      *mqttBroker,
			ClientID:    "flowscan-" + c.SubjectID(),
			TopicPrefix: *mqttTopic,
		})
		if err != nil {
			log.Fatalf("failed to start event bridge: %v", err)
		}
		defer bridge.Stop()
	}

	c.OnConnected(connector.TargetConsole, "mock0")
	c.OnConnected(connector.TargetSensorLeft, "mock1")
	c.OnConnected(connector.TargetSensorRight, "mock2")

	if *runCapture {
		subject := *subjectID
		if subject == "" {
			subject = c.SubjectID()
		}
		if !c.StartCapture(subject, *durationSec, byte(*leftMask), byte(*rightMask), *dataDir, *disableLaser) {
			log.Fatal("capture did not start")
		}
		result := <-finished
		if !result.OK {
			log.Fatalf("capture failed: %s", result.Error)
		}
		return
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Print("shutting down")
}
