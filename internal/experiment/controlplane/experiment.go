package controlplane

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/edgerun/galileo-experiments/internal/experiment/configuration"
	"github.com/edgerun/galileo-experiments/internal/experiment/domain"
)

const experimentKeyPrefix = "galileo:experiment:"

const (
	StatusRunning  = "RUNNING"
	StatusFinished = "FINISHED"
)

type ExperimentRecord struct {
	Id       string
	Name     string
	Creator  string
	Start    time.Time
	End      time.Time
	Status   string
	Metadata domain.RunMetadata
}

func ExperimentKey(id string) string {
	return experimentKeyPrefix + id
}

// ExperimentRecorder keeps the record of the experiment currently running. Only one experiment can be
// running per recorder.
type ExperimentRecorder struct {
	db      redis.UniversalClient
	channel string

	mutex   sync.Mutex
	current *ExperimentRecord
}

func NewExperimentRecorder(db redis.UniversalClient, config configuration.ControlPlaneConfiguration) *ExperimentRecorder {
	return &ExperimentRecorder{db: db, channel: config.ExperimentChannel}
}

// Start stores a new record and announces it. An empty record id is replaced by a random one.
// Once the record is stored its id is returned, also when the announcement fails.
func (r *ExperimentRecorder) Start(record ExperimentRecord) (string, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.current != nil {
		return "", errors.Errorf("experiment %s is still running", r.current.Id)
	}

	if record.Id == "" {
		record.Id = uuid.New().String()
	}
	if record.Start.IsZero() {
		record.Start = time.Now()
	}
	record.Status = StatusRunning

	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return "", errors.WithStack(err)
	}

	fields := map[string]interface{}{
		"id":       record.Id,
		"name":     record.Name,
		"creator":  record.Creator,
		"start":    formatTimestamp(record.Start),
		"status":   record.Status,
		"metadata": string(metadata),
	}
	if err := r.db.HMSet(ExperimentKey(record.Id), fields).Err(); err != nil {
		return "", errors.WithMessagef(err, "failed to store experiment %s", record.Name)
	}
	// the record is stored, Stop has to finish it even if nobody heard about the start
	r.current = &record
	if err := publish(r.db, r.channel, fmt.Sprintf("%s %s", startMessage, record.Id)); err != nil {
		return record.Id, err
	}

	log.WithFields(log.Fields{"experiment": record.Name, "id": record.Id}).Infof("Started experiment %s", record.Name)
	return record.Id, nil
}

// Stop finishes the running experiment.
func (r *ExperimentRecorder) Stop() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.current == nil {
		return errors.New("no experiment is running")
	}
	record := r.current
	r.current = nil

	record.End = time.Now()
	record.Status = StatusFinished
	fields := map[string]interface{}{
		"end":    formatTimestamp(record.End),
		"status": record.Status,
	}
	if err := r.db.HMSet(ExperimentKey(record.Id), fields).Err(); err != nil {
		return errors.WithMessagef(err, "failed to finish experiment %s", record.Name)
	}
	if err := publish(r.db, r.channel, fmt.Sprintf("%s %s", stopMessage, record.Id)); err != nil {
		return err
	}
	log.WithFields(log.Fields{"experiment": record.Name, "id": record.Id}).Infof("Finished experiment %s", record.Name)
	return nil
}

// Running returns the record of the running experiment, if any.
func (r *ExperimentRecorder) Running() (ExperimentRecord, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.current == nil {
		return ExperimentRecord{}, false
	}
	return *r.current, true
}

// Get reads a stored record.
func (r *ExperimentRecorder) Get(id string) (*ExperimentRecord, error) {
	fields, err := r.db.HGetAll(ExperimentKey(id)).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	record := &ExperimentRecord{
		Id:      fields["id"],
		Name:    fields["name"],
		Creator: fields["creator"],
		Status:  fields["status"],
	}
	if record.Start, err = parseTimestamp(fields["start"]); err != nil {
		return nil, err
	}
	if record.End, err = parseTimestamp(fields["end"]); err != nil {
		return nil, err
	}
	if metadata := fields["metadata"]; metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &record.Metadata); err != nil {
			return nil, errors.WithStack(err)
		}
	}
	return record, nil
}

func formatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/float64(time.Second), 'f', 6, 64)
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, errors.WithStack(err)
	}
	return time.Unix(0, int64(seconds*float64(time.Second))), nil
}
