package calibration

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/fault"
)

// persister mirrors the entry log and learned params to tab-delimited
// files. Truncated or malformed lines are skipped with a warning so a
// partial write never blocks startup.
type persister struct {
	entriesPath string
	paramsPath  string
	log         zerolog.Logger
}

func newPersister(dir string, log zerolog.Logger) *persister {
	return &persister{
		entriesPath: filepath.Join(dir, "calibration_entries.tsv"),
		paramsPath:  filepath.Join(dir, "calibration_params.tsv"),
		log:         log,
	}
}

// appendEntry appends one entry line: ts, uid, tank, reading, level, notes.
func (p *persister) appendEntry(e Entry) error {
	if err := os.MkdirAll(filepath.Dir(p.entriesPath), 0o755); err != nil {
		return fault.Wrap(fault.Storage, err, "mkdir")
	}
	f, err := os.OpenFile(p.entriesPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fault.Wrap(fault.Storage, err, "open entry log")
	}
	defer f.Close()

	notes := strings.ReplaceAll(e.Notes, "\t", " ")
	notes = strings.ReplaceAll(notes, "\n", " ")
	_, err = fmt.Fprintf(f, "%g\t%s\t%d\t%g\t%g\t%s\n",
		e.Timestamp, e.DeviceUID, e.Tank, e.SensorReading, e.VerifiedLevel, notes)
	return fault.Wrap(fault.Storage, err, "append entry")
}

// writeParams rewrites the params table atomically.
func (p *persister) writeParams(params []Params) error {
	dir := filepath.Dir(p.paramsPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fault.Wrap(fault.Storage, err, "mkdir")
	}
	tmp, err := os.CreateTemp(dir, ".params-*.tmp")
	if err != nil {
		return fault.Wrap(fault.Storage, err, "create temp")
	}
	tmpPath := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, pr := range params {
		fmt.Fprintf(w, "%s\t%d\t%g\t%g\t%g\t%d\t%g\t%g\t%t\n",
			pr.DeviceUID, pr.Tank, pr.Slope, pr.Offset, pr.R2,
			pr.EntryCount, pr.LastCalibrationEpoch, pr.ConfigMaxValue, pr.HasLearned)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fault.Wrap(fault.Storage, err, "write params")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fault.Wrap(fault.Storage, err, "close params")
	}
	if err := os.Rename(tmpPath, p.paramsPath); err != nil {
		os.Remove(tmpPath)
		return fault.Wrap(fault.Storage, err, "rename params")
	}
	return nil
}

// load replays the entry log into the store. The params file is derived
// state, so it is simply recomputed from the entries rather than read back.
func (p *persister) load(s *Store) error {
	f, err := os.Open(p.entriesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fault.Wrap(fault.Storage, err, "open entry log")
	}
	defer f.Close()

	var restored, skipped int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		e, ok := parseEntryLine(sc.Text())
		if !ok {
			skipped++
			continue
		}
		s.restore(e)
		restored++
	}
	if err := sc.Err(); err != nil {
		p.log.Warn().Err(err).Msg("calibration log read ended early")
	}
	if skipped > 0 {
		p.log.Warn().Int("skipped", skipped).Msg("skipped malformed calibration lines")
	}
	if restored > 0 {
		p.log.Info().Int("entries", restored).Msg("calibration log restored")
	}
	return nil
}

func parseEntryLine(line string) (Entry, bool) {
	fields := strings.Split(line, "\t")
	if len(fields) < 5 {
		return Entry{}, false
	}
	ts, err1 := strconv.ParseFloat(fields[0], 64)
	tank, err2 := strconv.Atoi(fields[2])
	reading, err3 := strconv.ParseFloat(fields[3], 64)
	level, err4 := strconv.ParseFloat(fields[4], 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || fields[1] == "" {
		return Entry{}, false
	}
	e := Entry{
		Timestamp:     ts,
		DeviceUID:     fields[1],
		Tank:          tank,
		SensorReading: reading,
		VerifiedLevel: level,
	}
	if len(fields) > 5 {
		e.Notes = fields[5]
	}
	return e, true
}
