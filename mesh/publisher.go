package mesh

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ProgressReport is the payload published on <prefix>/progress
type ProgressReport struct {
	Job       string `json:"job"`
	Stage     string `json:"stage"`
	Done      int    `json:"done"`
	Total     int    `json:"total"`
	Timestamp int64  `json:"timestamp"`
}

// Publisher publishes job progress and summaries to MQTT
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	job           string
	progress      map[string]*ProgressReport
	mu            sync.RWMutex
}

// NewPublisher creates a new job publisher
// If client is nil, publishing is disabled (for testing)
func NewPublisher(client mqtt.Client, config *Config) *Publisher {
	return &Publisher{
		client:        client,
		publishPrefix: publishPrefix(config),
		qos:           0,    // progress is fire and forget
		retain:        true, // late subscribers see the latest stage
		progress:      make(map[string]*ProgressReport),
	}
}

// SetJob names the job used in subsequent reports and summary topics
func (p *Publisher) SetJob(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.job = name
}

func (p *Publisher) connected() bool {
	return p.client != nil && p.client.IsConnected()
}

// PublishProgress records and publishes the progress of one stage
func (p *Publisher) PublishProgress(stage string, done, total int) error {
	p.mu.Lock()
	report := &ProgressReport{
		Job:       p.job,
		Stage:     stage,
		Done:      done,
		Total:     total,
		Timestamp: time.Now().Unix(),
	}
	p.progress[stage] = report
	p.mu.Unlock()

	if !p.connected() {
		return fmt.Errorf("MQTT client not connected")
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshaling progress: %w", err)
	}
	return p.publish(fmt.Sprintf("%s/progress", p.publishPrefix), payload)
}

// PublishJob publishes a finished job summary to <prefix>/jobs/<job>
func (p *Publisher) PublishJob(result *JobResult) error {
	if !p.connected() {
		return fmt.Errorf("MQTT client not connected")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshaling job result: %w", err)
	}
	if err := p.publish(jobTopic(p.publishPrefix, result.Name), payload); err != nil {
		return err
	}
	log.Printf("[MQTT] published job %s: %d vertices, %d invalid", result.Name, result.SourceVertices, result.InvalidCount)
	return nil
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Progress adapts the publisher to a ProgressFunc for stage. Publishing
// failures are logged once per stage; the report is kept either way.
func (p *Publisher) Progress(stage string) ProgressFunc {
	var once sync.Once
	return func(done, total int) {
		if err := p.PublishProgress(stage, done, total); err != nil && p.client != nil {
			once.Do(func() { log.Printf("[MQTT] progress for %s not published: %v", stage, err) })
		}
	}
}

// GetProgress returns the last report of stage
func (p *Publisher) GetProgress(stage string) (*ProgressReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.progress[stage]
	if !ok {
		return nil, false
	}
	c := *r
	return &c, true
}

// GetAllProgress returns a copy of the last report of every stage
func (p *Publisher) GetAllProgress() map[string]*ProgressReport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]*ProgressReport, len(p.progress))
	for k, v := range p.progress {
		c := *v
		out[k] = &c
	}
	return out
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
