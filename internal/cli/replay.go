package cli

import (
	"fmt"
	"sync"
	"time"

	"github.com/aniasusual/blind/internal/collector"
	"github.com/aniasusual/blind/internal/cursor"
	"github.com/aniasusual/blind/internal/output"
)

// ReplayCmd plays a captured session forward in time, emitting one record
// per cursor step. Playback runs at a fixed period scaled by --speed and
// stops automatically at the final event.
type ReplayCmd struct {
	Snapshot string  `arg:"" help:"Snapshot file (.json, optionally zstd) or SQLite database"`
	Speed    float64 `default:"${config_playback_speed}" help:"Playback speed multiplier"`
	Period   string  `default:"250ms" help:"Base step period at speed 1.0"`
	From     int     `default:"-1" help:"Cursor position to start from"`
}

// Run executes the replay command.
func (c *ReplayCmd) Run(globals *Globals) error {
	snap, err := loadSnapshot(c.Snapshot)
	if err != nil {
		return outputErrorCommon(globals, "SNAPSHOT_LOAD_FAILED", err.Error())
	}

	period, err := time.ParseDuration(c.Period)
	if err != nil {
		return outputErrorCommon(globals, "INVALID_PERIOD", err.Error())
	}

	logger := newZapLogger(globals)
	defer logger.Sync()

	session, err := collector.NewSessionFromSnapshot(snap, logger)
	if err != nil {
		return outputErrorCommon(globals, "SNAPSHOT_INVALID", err.Error())
	}

	log := session.Log()
	if log.Len() == 0 {
		return outputErrorCommon(globals, "EMPTY_SNAPSHOT", "snapshot holds no events")
	}

	writer := output.NewNDJSONWriter(globals.Stdout)
	done := make(chan struct{})
	var finish sync.Once

	cur := cursor.New(log.Len,
		cursor.WithStepPeriod(period),
		cursor.WithOnMove(func(pos int) {
			if pos < 0 {
				return
			}
			ev, ok := log.At(pos)
			if !ok {
				return
			}
			if globals.Format == "ndjson" {
				writer.Write("step", map[string]interface{}{
					"cursor":   pos,
					"event_id": ev.EventID,
					"category": string(ev.Category),
					"function": ev.Function,
					"line":     ev.Line,
					"depth":    ev.Depth,
				})
			} else {
				fmt.Fprintf(globals.Stdout, "[%d] %-16s depth=%d %s:%d %s\n",
					pos, ev.Category, ev.Depth, fileLabelByID(session, ev.FileID), ev.Line, ev.Function)
			}
			if pos >= log.Len()-1 {
				finish.Do(func() { close(done) })
			}
		}))

	cur.Seek(c.From)
	cur.Play(c.Speed)
	<-done
	return nil
}

func fileLabelByID(session *collector.Session, fileID int) string {
	sf, _ := session.Log().File(fileID)
	return fileLabel(sf)
}
