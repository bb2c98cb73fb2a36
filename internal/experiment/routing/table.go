package routing

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// Record is the routing table entry of one service.
type Record struct {
	Service string
	Hosts   []string
	Weights []int
}

type Table interface {
	Set(service string, hosts []string, weights []int) error
	Remove(service string) error
	// Get returns nil if there is no entry for service.
	Get(service string) (*Record, error)
	List() ([]string, error)
}

// RedisTable stores the routing table the galileo clients read, one set of service names and
// two lists per service.
type RedisTable struct {
	db     redis.UniversalClient
	prefix string
}

func NewRedisTable(db redis.UniversalClient, prefix string) *RedisTable {
	return &RedisTable{db: db, prefix: prefix}
}

func (r *RedisTable) servicesKey() string {
	return r.prefix + ":services"
}

func (r *RedisTable) hostsKey(service string) string {
	return fmt.Sprintf("%s:%s:hosts", r.prefix, service)
}

func (r *RedisTable) weightsKey(service string) string {
	return fmt.Sprintf("%s:%s:weights", r.prefix, service)
}

func (r *RedisTable) Set(service string, hosts []string, weights []int) error {
	hostValues := make([]interface{}, 0, len(hosts))
	for _, host := range hosts {
		hostValues = append(hostValues, host)
	}
	weightValues := make([]interface{}, 0, len(weights))
	for _, weight := range weights {
		weightValues = append(weightValues, weight)
	}

	_, err := r.db.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.Del(r.hostsKey(service), r.weightsKey(service))
		if len(hostValues) > 0 {
			pipe.RPush(r.hostsKey(service), hostValues...)
			pipe.RPush(r.weightsKey(service), weightValues...)
		}
		pipe.SAdd(r.servicesKey(), service)
		return nil
	})
	return errors.WithStack(err)
}

func (r *RedisTable) Remove(service string) error {
	_, err := r.db.TxPipelined(func(pipe redis.Pipeliner) error {
		pipe.Del(r.hostsKey(service), r.weightsKey(service))
		pipe.SRem(r.servicesKey(), service)
		return nil
	})
	return errors.WithStack(err)
}

func (r *RedisTable) Get(service string) (*Record, error) {
	exists, err := r.db.SIsMember(r.servicesKey(), service).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if !exists {
		return nil, nil
	}

	pipe := r.db.Pipeline()
	hostsCmd := pipe.LRange(r.hostsKey(service), 0, -1)
	weightsCmd := pipe.LRange(r.weightsKey(service), 0, -1)
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return nil, errors.WithStack(err)
	}

	weights := make([]int, 0, len(weightsCmd.Val()))
	for _, value := range weightsCmd.Val() {
		weight, err := strconv.Atoi(value)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid weight for service %s", service)
		}
		weights = append(weights, weight)
	}
	return &Record{Service: service, Hosts: hostsCmd.Val(), Weights: weights}, nil
}

func (r *RedisTable) List() ([]string, error) {
	services, err := r.db.SMembers(r.servicesKey()).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sort.Strings(services)
	return services, nil
}
