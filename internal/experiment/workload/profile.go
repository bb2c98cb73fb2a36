package workload

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Replacement for zero intervals. Clients treat a zero interval as "retry immediately".
const MinInterval = 1e-11

// LoadArrivalProfile reads the interarrival times (in seconds) of one client. JSON and YAML files
// hold a list of numbers, any other file one number per line.
func LoadArrivalProfile(path string) ([]float64, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var intervals []float64
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(content, &intervals)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &intervals)
	default:
		intervals, err = parseLines(content)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read arrival profile %s", path)
	}
	for i, ia := range intervals {
		if ia < 0 {
			return nil, errors.Errorf("arrival profile %s: negative interval %g at index %d", path, ia, i)
		}
	}
	return intervals, nil
}

func parseLines(content []byte) ([]float64, error) {
	var intervals []float64
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		ia, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		intervals = append(intervals, ia)
	}
	return intervals, errors.WithStack(scanner.Err())
}

// SanitizeIntervals returns a copy of intervals with zeros replaced by MinInterval.
func SanitizeIntervals(intervals []float64) []float64 {
	result := make([]float64, len(intervals))
	for i, ia := range intervals {
		if ia == 0 {
			ia = MinInterval
		}
		result[i] = ia
	}
	return result
}

// ProfileQueue stores the interarrival times of each client in a redis list named by the client id.
// Intervals are pushed to the head of the list, clients consume them from the tail.
type ProfileQueue struct {
	db redis.UniversalClient
}

func NewProfileQueue(db redis.UniversalClient) *ProfileQueue {
	return &ProfileQueue{db: db}
}

// Replace clears the queue of clientId and pushes intervals.
func (q *ProfileQueue) Replace(clientId string, intervals []float64) error {
	values := make([]interface{}, 0, len(intervals))
	for _, ia := range intervals {
		values = append(values, ia)
	}

	_, err := q.db.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.Del(clientId)
		if len(values) > 0 {
			pipe.LPush(clientId, values...)
		}
		return nil
	})
	if err != nil {
		return errors.WithMessagef(err, "failed to store arrival profile of client %s", clientId)
	}
	log.WithField("client", clientId).Debugf("Pushed %d intervals for client %s", len(values), clientId)
	return nil
}

// Intervals returns the queue of clientId in consumption order.
func (q *ProfileQueue) Intervals(clientId string) ([]float64, error) {
	values, err := q.db.LRange(clientId, 0, -1).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	intervals := make([]float64, len(values))
	for i, value := range values {
		ia, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid interval in queue of client %s", clientId)
		}
		intervals[len(values)-1-i] = ia
	}
	return intervals, nil
}

func (q *ProfileQueue) Clear(clientIds ...string) error {
	if len(clientIds) == 0 {
		return nil
	}
	return errors.WithStack(q.db.Del(clientIds...).Err())
}
