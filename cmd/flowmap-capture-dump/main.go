package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"flowmap-stream-go/internal/capture"
	"flowmap-stream-go/internal/codec"
	"flowmap-stream-go/internal/protocol"
)

type summary struct {
	Index   int    `json:"index"`
	Time    string `json:"time"`
	Dir     string `json:"dir"`
	Tag     byte   `json:"tag"`
	Kind    string `json:"kind"`
	Size    int    `json:"size"`
	Format  string `json:"format,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Text    string `json:"text,omitempty"`
	Extract string `json:"extracted,omitempty"`
}

func main() {
	var (
		path       = flag.String("path", "", "Path to a .cap capture file")
		limit      = flag.Int("limit", 0, "Number of records to dump, 0 for all")
		profile    = flag.String("profile", "streaming", "Tag profile used when the capture was taken")
		extractDir = flag.String("extract", "", "Write image payloads into this directory")
		asJSON     = flag.Bool("json", false, "Print one JSON object per record")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}
	prof, err := protocol.ProfileByName(*profile)
	if err != nil {
		log.Fatal(err)
	}
	if *extractDir != "" {
		if err := os.MkdirAll(*extractDir, 0o755); err != nil {
			log.Fatalf("create extract dir: %v", err)
		}
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open capture: %v", err)
	}
	defer f.Close()

	reader, err := capture.NewReader(f)
	if err != nil {
		log.Fatalf("read capture: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	for count := 0; *limit <= 0 || count < *limit; count++ {
		rec, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			log.Fatalf("record %d: %v", count, err)
		}

		s := describe(prof, count, rec)
		if *extractDir != "" && s.Format != "" {
			name := filepath.Join(*extractDir, fmt.Sprintf("%06d_%s_%s.%s", count, rec.Direction, s.Kind, s.Format))
			if err := os.WriteFile(name, rec.Payload, 0o644); err != nil {
				log.Printf("record %d: extract failed: %v", count, err)
			} else {
				s.Extract = name
			}
		}

		if *asJSON {
			_ = enc.Encode(s)
			continue
		}
		line := fmt.Sprintf("%6d %s %-3s tag=%d %-26s %8d bytes", s.Index, s.Time, s.Dir, s.Tag, s.Kind, s.Size)
		if s.Format != "" {
			line += fmt.Sprintf("  %s %dx%d", s.Format, s.Width, s.Height)
		}
		if s.Text != "" {
			line += "  " + s.Text
		}
		fmt.Println(line)
	}
}

func describe(prof protocol.Profile, index int, rec capture.Record) summary {
	s := summary{
		Index: index,
		Time:  rec.Time().Format(time.RFC3339Nano),
		Dir:   string(rec.Direction),
		Tag:   rec.Tag,
		Size:  len(rec.Payload),
	}

	isImage := false
	if rec.Direction == capture.Outbound {
		cmd, ok := prof.CommandFor(rec.Tag)
		if !ok {
			s.Kind = "unknown"
			return s
		}
		s.Kind = cmd.String()
		switch cmd {
		case protocol.CommandEditedFrame:
			isImage = true
		case protocol.CommandAnnotationPoints, protocol.CommandWaterJetVectors:
			s.Text = string(rec.Payload)
		}
	} else {
		switch prof.DecodeInbound(protocol.Message{Tag: rec.Tag, Payload: rec.Payload}).(type) {
		case protocol.FlowMapImage:
			s.Kind = "flowmap"
		case protocol.FrameImage:
			s.Kind = "frame"
		case protocol.TransformedFrameImage:
			s.Kind = "transformed_frame"
		default:
			s.Kind = "unknown"
		}
		isImage = s.Kind != "unknown"
	}

	if isImage {
		if img, err := codec.Decode(rec.Payload, 0); err == nil {
			s.Format = img.Format
			s.Width = img.Width
			s.Height = img.Height
		} else {
			s.Text = err.Error()
		}
	}
	return s
}
