package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lucerna-optics/flowscan/internal/stream"
)

var (
	inFile  = flag.String("file", "", "Raw histogram capture file to convert")
	outFile = flag.String("output", "", "Destination CSV (defaults to input with .csv)")
	port    = flag.String("port", "", "Serial device to tap live instead of a file")
	baud    = flag.Int("baud", 921600, "Serial baud rate for -port")
)

func main() {
	flag.Parse()

	switch {
	case *port != "":
		tapSerial(*port, *baud, *outFile)
	case *inFile != "":
		convertFile(*inFile, *outFile)
	default:
		log.Fatal("one of -file or -port is required")
	}
}

func convertFile(src, dst string) {
	if dst == "" {
		dst = strings.TrimSuffix(src, ".bin") + ".csv"
	}
	stats, err := stream.ConvertFile(src, dst)
	if err != nil {
		log.Fatalf("conversion failed: %v", err)
	}
	log.Printf("wrote %s: %d packets, %d rows, %d resyncs", dst, stats.Packets, stats.Rows, stats.Resyncs)
}

func tapSerial(device string, baud int, dst string) {
	if dst == "" {
		dst = "tap_" + time.Now().Format("20060102_150405") + ".csv"
	}

	p, err := stream.OpenSerial(device, baud)
	if err != nil {
		log.Fatalf("failed to open %s: %v", device, err)
	}
	defer p.Close()

	sink := make(chan []byte, 64)
	w, err := stream.NewWriter(dst, sink)
	if err != nil {
		log.Fatalf("failed to create %s: %v", dst, err)
	}
	go w.Run()

	stop := make(chan struct{})
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		close(stop)
		p.Close()
	}()

	log.Printf("tapping %s at %d baud into %s", device, baud, dst)
	if err := stream.PumpReader(p, sink, stop); err != nil {
		log.Printf("serial read ended: %v", err)
	}
	close(sink)
	if !w.Join(5 * time.Second) {
		log.Print("writer did not flush in time")
	}
	stats := w.Stats()
	log.Printf("wrote %s: %d packets, %d rows, %d resyncs", dst, stats.Packets, stats.Rows, stats.Resyncs)
}
