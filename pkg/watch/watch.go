package watch

import (
	"context"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/adeverne/kiwiglider/pkg/metrics"
)

var (
	// messageCounter counts file notifications received from the dockserver.
	messageCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kiwiglider",
			Subsystem: "watch",
			Name:      "messages_received_total",
			Help:      "Count of dockserver file notifications received",
		},
	)

	// runCounter counts pipeline runs triggered, by outcome.
	runCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kiwiglider",
			Subsystem: "watch",
			Name:      "runs_total",
			Help:      "Count of realtime pipeline runs triggered",
		},
		[]string{"outcome"},
	)
)

func init() {
	metrics.MustRegister(messageCounter)
	metrics.MustRegister(runCounter)
}

// Runner executes one realtime processing run for a named deployment. The
// real implementation constructs and runs a pipeline; tests substitute a
// recorder.
type Runner interface {
	Run(ctx context.Context, name string) error
}

// Config carries the watcher's tunables.
type Config struct {
	// Debounce is how long to wait after the last file notification for a
	// deployment before running the pipeline. A surfacing delivers a burst of
	// files; one run at the end of the burst covers them all.
	Debounce time.Duration
}

func (c *Config) debounce() time.Duration {
	if c.Debounce <= 0 {
		return 30 * time.Second
	}
	return c.Debounce
}

// Watcher subscribes to dockserver file notification topics and triggers a
// debounced realtime pipeline run for the deployment named in each topic.
// It abstracts our connection to one or more MQTT brokers, allowing new
// subscriptions to be made and reusing broker connections across them.
type Watcher struct {
	config    *Config
	connector Connector
	runner    Runner
	logger    kitlog.Logger

	sync.Mutex
	clients map[string]paho.Client
	pending map[string]*time.Timer
	stopped bool
}

// NewWatcher returns a watcher ready to subscribe.
func NewWatcher(config *Config, connector Connector, runner Runner, logger kitlog.Logger) *Watcher {
	logger = kitlog.With(logger, "module", "watch")

	logger.Log("debounce", config.debounce(), "msg", "creating watcher")

	return &Watcher{
		config:    config,
		connector: connector,
		runner:    runner,
		logger:    logger,
		clients:   make(map[string]paho.Client),
		pending:   make(map[string]*time.Timer),
	}
}

// Start marks the watcher running. Subscriptions are made individually via
// Subscribe once started.
func (w *Watcher) Start() error {
	w.Lock()
	w.stopped = false
	w.Unlock()

	w.logger.Log("msg", "starting watcher")

	return nil
}

// Stop cancels pending runs, disconnects all currently connected clients and
// clears the client map.
func (w *Watcher) Stop() error {
	w.Lock()
	defer w.Unlock()

	w.stopped = true

	for name, timer := range w.pending {
		timer.Stop()
		delete(w.pending, name)
	}

	for broker, client := range w.clients {
		client.Disconnect(500)
		delete(w.clients, broker)
	}

	w.logger.Log("msg", "stopped watcher")

	return nil
}

// Subscribe attempts to create a subscription for the given topic on the given
// broker. This method will create a new connection to a particular broker if
// one does not already exist, but will reuse an existing connection.
func (w *Watcher) Subscribe(broker, topic string) error {
	w.logger.Log("topic", topic, "broker", broker, "msg", "subscribing")

	handler := func(client paho.Client, message paho.Message) {
		w.handle(message.Topic())
	}

	client, err := w.getClient(broker)
	if err != nil {
		return errors.Wrap(err, "failed to get client")
	}

	if token := client.Subscribe(topic, 0, handler); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "failed to subscribe")
	}

	return nil
}

// handle reacts to one file notification: it identifies the deployment from
// the topic and resets that deployment's debounce timer.
func (w *Watcher) handle(topic string) {
	messageCounter.Inc()

	name := deploymentFromTopic(topic)
	if name == "" {
		w.logger.Log("topic", topic, "msg", "cannot identify deployment, dropping notification")
		return
	}

	w.Lock()
	defer w.Unlock()

	if w.stopped {
		return
	}

	if timer, ok := w.pending[name]; ok {
		timer.Reset(w.config.debounce())
		return
	}

	w.pending[name] = time.AfterFunc(w.config.debounce(), func() {
		w.run(name)
	})

	w.logger.Log("deployment", name, "msg", "scheduled run")
}

// run executes the pipeline for one deployment once its debounce window has
// closed.
func (w *Watcher) run(name string) {
	w.Lock()
	delete(w.pending, name)
	stopped := w.stopped
	w.Unlock()

	if stopped {
		return
	}

	if err := w.runner.Run(context.Background(), name); err != nil {
		runCounter.WithLabelValues("error").Inc()
		w.logger.Log("deployment", name, "err", err, "msg", "run failed")
		return
	}

	runCounter.WithLabelValues("ok").Inc()
	w.logger.Log("deployment", name, "msg", "run completed")
}

func (w *Watcher) getClient(broker string) (paho.Client, error) {
	var client paho.Client
	var err error

	// attempt to get client, note the use of the lock here protecting the map
	// containing clients.
	w.Lock()
	client, ok := w.clients[broker]
	w.Unlock()

	if !ok {
		client, err = w.connector.Connect(broker, w.logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to broker")
		}

		w.logger.Log("broker", broker, "msg", "storing client")

		w.Lock()
		w.clients[broker] = client
		w.Unlock()
	}

	return client, nil
}

// deploymentFromTopic extracts the deployment name from a dockserver
// notification topic of the form gliders/<deployment>/files/<file>.
func deploymentFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
