package history

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/snarg/tankwatch/internal/fault"
	"github.com/snarg/tankwatch/internal/fleet"
)

// ArchiveConfig configures the cold-tier object store.
type ArchiveConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// Archiver uploads monthly summary documents to an S3-compatible object
// store under <prefix>/history/<YYYYMM>_history.json.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string
	log    zerolog.Logger
}

func NewArchiver(cfg ArchiveConfig, log zerolog.Logger) (*Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log.With().Str("component", "archiver").Logger(),
	}, nil
}

// HeadBucket checks that the bucket exists and credentials are valid.
func (a *Archiver) HeadBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &a.bucket})
	return err
}

// ObjectKey returns the archive key for a YYYYMM month.
func (a *Archiver) ObjectKey(month string) string {
	key := "history/" + month + "_history.json"
	if a.prefix != "" {
		return a.prefix + "/" + key
	}
	return key
}

// Save uploads a monthly summary document.
func (a *Archiver) Save(ctx context.Context, month string, data []byte) error {
	key := a.ObjectKey(month)
	ct := "application/json"
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &ct,
	})
	return fault.Wrap(fault.Storage, err, "archive put %s", key)
}

// FetchMonth reads an archived monthly summary back from the object store.
func (a *Archiver) FetchMonth(ctx context.Context, month string) (*MonthlySummary, error) {
	key := a.ObjectKey(month)
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &a.bucket, Key: &key})
	if err != nil {
		return nil, fault.Wrap(fault.Storage, err, "archive get %s", key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fault.Wrap(fault.Storage, err, "archive read %s", key)
	}
	var doc MonthlySummary
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fault.Wrap(fault.Storage, err, "archive decode %s", key)
	}
	return &doc, nil
}

// TankMonthStats are the per-tank aggregates in a monthly summary.
type TankMonthStats struct {
	DeviceUID string  `json:"device"`
	Tank      int     `json:"tank"`
	Samples   int     `json:"samples"`
	MinLevel  float64 `json:"minLevel"`
	MaxLevel  float64 `json:"maxLevel"`
	AvgLevel  float64 `json:"avgLevel"`
	MinVolts  float64 `json:"minVolts"`
	MaxVolts  float64 `json:"maxVolts"`
	AvgVolts  float64 `json:"avgVolts"`
}

// MonthlySummary is the cold-tier archive document for one month.
type MonthlySummary struct {
	Month  string           `json:"month"` // YYYYMM
	Tanks  []TankMonthStats `json:"tanks"`
	Alarms []AlarmEntry     `json:"alarms"`
}

// MonthOf formats an epoch as YYYYMM in UTC.
func MonthOf(epoch float64) string {
	return time.Unix(int64(epoch), 0).UTC().Format("200601")
}

// Maintain runs the periodic history maintenance: the daily prune and, on
// calendar month rollover, the cold-tier archive upload. tick, when
// non-nil, is the watchdog liveness callback invoked between slow steps.
func (s *Store) Maintain(ctx context.Context, now float64, tick func()) {
	if now == 0 {
		return
	}
	s.prune(now)
	if tick != nil {
		tick()
	}

	if s.archiver == nil {
		return
	}
	t := time.Unix(int64(now), 0).UTC()
	prev := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1).Format("200601")

	s.mu.Lock()
	done := s.lastArchivedMonth == prev
	if !done {
		s.lastArchivedMonth = prev
	}
	s.mu.Unlock()
	if done {
		return
	}

	doc := s.BuildMonthlySummary(prev)
	if len(doc.Tanks) == 0 && len(doc.Alarms) == 0 {
		return
	}
	data, err := json.Marshal(doc)
	if err != nil {
		s.log.Error().Err(err).Msg("monthly summary encode failed")
		return
	}
	if err := s.archiver.Save(ctx, prev, data); err != nil {
		s.log.Warn().Err(err).Str("month", prev).Msg("archive upload failed, will retry next cycle")
		s.mu.Lock()
		s.lastArchivedMonth = ""
		s.mu.Unlock()
		return
	}
	if tick != nil {
		tick()
	}
	s.log.Info().Str("month", prev).Int("tanks", len(doc.Tanks)).Msg("monthly history archived")
}

// BuildMonthlySummary aggregates the hot tier and alarm log for one month.
func (s *Store) BuildMonthlySummary(month string) *MonthlySummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := &MonthlySummary{Month: month}
	keys := make([]fleet.Key, 0, len(s.hourly))
	for key := range s.hourly {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].DeviceUID != keys[j].DeviceUID {
			return keys[i].DeviceUID < keys[j].DeviceUID
		}
		return keys[i].Tank < keys[j].Tank
	})

	for _, key := range keys {
		if st, ok := monthStats(key, s.hourly[key], month); ok {
			doc.Tanks = append(doc.Tanks, st)
		}
	}
	for _, e := range s.alarms {
		if MonthOf(e.Epoch) == month {
			doc.Alarms = append(doc.Alarms, e)
		}
	}
	return doc
}

// MonthStats aggregates the hot tier for one tank and month.
func (s *Store) MonthStats(key fleet.Key, month string) (TankMonthStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return monthStats(key, s.hourly[key], month)
}

func monthStats(key fleet.Key, ring []Snapshot, month string) (TankMonthStats, bool) {
	st := TankMonthStats{DeviceUID: key.DeviceUID, Tank: key.Tank}
	var sumLevel, sumVolts float64
	for _, snap := range ring {
		if MonthOf(snap.Epoch) != month {
			continue
		}
		if st.Samples == 0 {
			st.MinLevel, st.MaxLevel = snap.Level, snap.Level
			st.MinVolts, st.MaxVolts = snap.Volts, snap.Volts
		} else {
			if snap.Level < st.MinLevel {
				st.MinLevel = snap.Level
			}
			if snap.Level > st.MaxLevel {
				st.MaxLevel = snap.Level
			}
			if snap.Volts < st.MinVolts {
				st.MinVolts = snap.Volts
			}
			if snap.Volts > st.MaxVolts {
				st.MaxVolts = snap.Volts
			}
		}
		sumLevel += snap.Level
		sumVolts += snap.Volts
		st.Samples++
	}
	if st.Samples == 0 {
		return st, false
	}
	st.AvgLevel = sumLevel / float64(st.Samples)
	st.AvgVolts = sumVolts / float64(st.Samples)
	return st, true
}

// ArchiveKeyHint returns the object key where a month's archive lives, or
// empty when archiving is disabled.
func (s *Store) ArchiveKeyHint(month string) string {
	if s.archiver == nil {
		return ""
	}
	return s.archiver.ObjectKey(month)
}

// FetchArchivedMonth retrieves an archived month, or nil when archiving is
// disabled.
func (s *Store) FetchArchivedMonth(ctx context.Context, month string) (*MonthlySummary, error) {
	if s.archiver == nil {
		return nil, nil
	}
	return s.archiver.FetchMonth(ctx, month)
}
