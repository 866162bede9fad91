package watch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records the deployments it was asked to run.
type fakeRunner struct {
	sync.Mutex
	runs []string
}

func (f *fakeRunner) Run(ctx context.Context, name string) error {
	f.Lock()
	defer f.Unlock()
	f.runs = append(f.runs, name)
	return nil
}

func (f *fakeRunner) ran() []string {
	f.Lock()
	defer f.Unlock()
	out := make([]string, len(f.runs))
	copy(out, f.runs)
	return out
}

// fakeToken is an immediately resolved paho token.
type fakeToken struct{}

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return nil }

// fakeClient is a minimal paho client recording subscriptions and
// disconnects.
type fakeClient struct {
	sync.Mutex
	topics       []string
	disconnected bool
}

func (c *fakeClient) IsConnected() bool       { return true }
func (c *fakeClient) IsConnectionOpen() bool  { return true }
func (c *fakeClient) Connect() paho.Token     { return &fakeToken{} }
func (c *fakeClient) Disconnect(quiesce uint) {
	c.Lock()
	defer c.Unlock()
	c.disconnected = true
}
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	return &fakeToken{}
}
func (c *fakeClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	c.Lock()
	defer c.Unlock()
	c.topics = append(c.topics, topic)
	return &fakeToken{}
}
func (c *fakeClient) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	return &fakeToken{}
}
func (c *fakeClient) Unsubscribe(topics ...string) paho.Token { return &fakeToken{} }
func (c *fakeClient) AddRoute(topic string, callback paho.MessageHandler) {}
func (c *fakeClient) OptionsReader() paho.ClientOptionsReader {
	return paho.ClientOptionsReader{}
}

// fakeConnector hands back a shared fake client, or an error.
type fakeConnector struct {
	client *fakeClient
	err    error
}

func (f *fakeConnector) Connect(broker string, logger kitlog.Logger) (paho.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func newTestWatcher(debounce time.Duration, runner Runner) *Watcher {
	return NewWatcher(&Config{Debounce: debounce}, &fakeConnector{client: &fakeClient{}}, runner, kitlog.NewNopLogger())
}

func TestNotificationBurstTriggersOneRun(t *testing.T) {
	runner := &fakeRunner{}
	w := newTestWatcher(50*time.Millisecond, runner)
	require.Nil(t, w.Start())

	w.handle("gliders/GLD0040/files/unit_123.sbd")
	w.handle("gliders/GLD0040/files/unit_123.tbd")
	w.handle("gliders/GLD0040/files/unit_124.sbd")

	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, []string{"GLD0040"}, runner.ran())
}

func TestSeparateDeploymentsRunSeparately(t *testing.T) {
	runner := &fakeRunner{}
	w := newTestWatcher(50*time.Millisecond, runner)
	require.Nil(t, w.Start())

	w.handle("gliders/GLD0040/files/unit_123.sbd")
	w.handle("gliders/GLD0041/files/unit_200.sbd")

	time.Sleep(300 * time.Millisecond)

	ran := runner.ran()
	assert.Len(t, ran, 2)
	assert.ElementsMatch(t, []string{"GLD0040", "GLD0041"}, ran)
}

func TestStopCancelsPendingRuns(t *testing.T) {
	runner := &fakeRunner{}
	w := newTestWatcher(50*time.Millisecond, runner)
	require.Nil(t, w.Start())

	w.handle("gliders/GLD0040/files/unit_123.sbd")
	require.Nil(t, w.Stop())

	time.Sleep(300 * time.Millisecond)

	assert.Empty(t, runner.ran())
}

func TestUnparseableTopicIsDropped(t *testing.T) {
	runner := &fakeRunner{}
	w := newTestWatcher(10*time.Millisecond, runner)
	require.Nil(t, w.Start())

	w.handle("garbage")

	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, runner.ran())
}

func TestSubscribeReusesConnections(t *testing.T) {
	client := &fakeClient{}
	w := NewWatcher(&Config{}, &fakeConnector{client: client}, &fakeRunner{}, kitlog.NewNopLogger())

	require.Nil(t, w.Subscribe("tcp://broker:1883", "gliders/+/files/#"))
	require.Nil(t, w.Subscribe("tcp://broker:1883", "gliders/other/#"))

	assert.Equal(t, []string{"gliders/+/files/#", "gliders/other/#"}, client.topics)
	assert.Len(t, w.clients, 1)
}

func TestSubscribeConnectionFailure(t *testing.T) {
	w := NewWatcher(&Config{}, &fakeConnector{err: errors.New("broker down")}, &fakeRunner{}, kitlog.NewNopLogger())

	err := w.Subscribe("tcp://broker:1883", "gliders/+/files/#")
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestStopDisconnectsClients(t *testing.T) {
	client := &fakeClient{}
	w := NewWatcher(&Config{}, &fakeConnector{client: client}, &fakeRunner{}, kitlog.NewNopLogger())

	require.Nil(t, w.Subscribe("tcp://broker:1883", "gliders/+/files/#"))
	require.Nil(t, w.Stop())

	assert.True(t, client.disconnected)
	assert.Empty(t, w.clients)
}

func TestPulseHandler(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "/pulse", nil)
	assert.Nil(t, err)

	rr := httptest.NewRecorder()
	PulseHandler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestDeploymentFromTopic(t *testing.T) {
	testcases := []struct {
		topic    string
		expected string
	}{
		{"gliders/GLD0040/files/unit_123.sbd", "GLD0040"},
		{"gliders/GLD0040", "GLD0040"},
		{"gliders", ""},
		{"", ""},
	}

	for _, tc := range testcases {
		assert.Equal(t, tc.expected, deploymentFromTopic(tc.topic), tc.topic)
	}
}
