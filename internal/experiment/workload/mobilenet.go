package workload

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	v1 "k8s.io/api/core/v1"

	"github.com/edgerun/galileo-experiments/internal/common/experimenterrors"
)

const (
	MobilenetName = "mobilenet"

	ImageUrlParam   = "image_url"
	DefaultImageUrl = "https://i.imgur.com/0jx0gP8.png"

	bodyCacheExpiry = 30 * time.Minute
)

// Mobilenet is the image classification function. Clients post a base64 encoded picture.
// Request bodies are cached per picture url, so consecutive runs do not fetch the picture again.
type Mobilenet struct {
	httpClient *http.Client
	bodies     *cache.Cache
}

func NewMobilenet() *Mobilenet {
	return &Mobilenet{
		httpClient: http.DefaultClient,
		bodies:     cache.New(bodyCacheExpiry, bodyCacheExpiry),
	}
}

func (m *Mobilenet) Name() string {
	return MobilenetName
}

func (m *Mobilenet) SpawnGroup(ctx context.Context, config GroupConfig, env Environment) (ClientGroup, error) {
	if config.Function == "" {
		config.Function = MobilenetName
	}
	imageUrl := config.Params[ImageUrlParam]
	if imageUrl == "" {
		imageUrl = DefaultImageUrl
	}

	body, err := m.requestBody(ctx, imageUrl)
	if err != nil {
		return nil, errors.WithStack(&experimenterrors.ErrWorkload{Group: config.GroupName(), Message: err.Error()})
	}

	group, err := NewHttpClientGroup(config, env, HttpRequestTemplate{
		Method: http.MethodPost,
		Path:   "/function/" + config.Function,
		Body:   body,
		Header: http.Header{"Content-Type": []string{"application/json"}},
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

func (m *Mobilenet) requestBody(ctx context.Context, imageUrl string) ([]byte, error) {
	if body, ok := m.bodies.Get(imageUrl); ok {
		return body.([]byte), nil
	}
	body, err := m.fetchBody(ctx, imageUrl)
	if err != nil {
		return nil, err
	}
	m.bodies.SetDefault(imageUrl, body)
	return body, nil
}

func (m *Mobilenet) fetchBody(ctx context.Context, imageUrl string) ([]byte, error) {
	log.Infof("Fetch picture from %s", imageUrl)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, imageUrl, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	response, err := m.httpClient.Do(request)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetching %s returned %s", imageUrl, response.Status)
	}
	picture, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	body, err := json.Marshal(map[string]string{"picture": base64.StdEncoding.EncodeToString(picture)})
	return body, errors.WithStack(err)
}

func (m *Mobilenet) Container(podName string, image string, resources v1.ResourceList) v1.Container {
	container := functionContainer(podName, image, resources)
	container.Env = append(container.Env,
		v1.EnvVar{Name: "MODEL_STORAGE", Value: "local"},
		v1.EnvVar{Name: "MODEL_FILE", Value: "/home/app/function/data/mobilenet.tflite"},
		v1.EnvVar{Name: "LABELS_FILE", Value: "/home/app/function/data/labels.txt"},
		v1.EnvVar{Name: "IMAGE_STORAGE", Value: "request"},
	)
	return container
}
