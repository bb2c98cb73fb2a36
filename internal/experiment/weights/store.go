package weights

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/edgerun/galileo-experiments/internal/experiment/configuration"
)

// Store is the key-value space the edge load balancer watches.
type Store interface {
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (string, bool, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

type EtcdStore struct {
	client *clientv3.Client
}

func NewEtcdStore(config configuration.EtcdConfiguration) (*EtcdStore, error) {
	endpoint := fmt.Sprintf("%s:%d", config.Host, config.Port)
	log.Infof("Connect to etcd instance %s", endpoint)
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: config.DialTimeout,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to connect to etcd at %s", endpoint)
	}
	return &EtcdStore{client: client}, nil
}

func (s *EtcdStore) Put(ctx context.Context, key string, value string) error {
	_, err := s.client.Put(ctx, key, value)
	return errors.WithStack(err)
}

func (s *EtcdStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.Delete(ctx, key)
	return errors.WithStack(err)
}

func (s *EtcdStore) Get(ctx context.Context, key string) (string, bool, error) {
	response, err := s.client.Get(ctx, key)
	if err != nil {
		return "", false, errors.WithStack(err)
	}
	if len(response.Kvs) == 0 {
		return "", false, nil
	}
	return string(response.Kvs[0].Value), true, nil
}

func (s *EtcdStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	response, err := s.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	keys := make([]string, 0, len(response.Kvs))
	for _, kv := range response.Kvs {
		keys = append(keys, string(kv.Key))
	}
	return keys, nil
}

func (s *EtcdStore) Close() error {
	return s.client.Close()
}
