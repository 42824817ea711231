// Package metrics emits CloudWatch Embedded Metric Format (EMF) documents, one
// JSON line per flush. When the process runs under CloudWatch log ingestion the
// metrics are extracted automatically; elsewhere the lines are plain
// structured logs.
//
// See: https://docs.aws.amazon.com/AmazonCloudWatch/latest/monitoring/CloudWatch_Embedded_Metric_Format_Specification.html
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// DefaultNamespace is used until SetNamespace names another.
const DefaultNamespace = "Siren"

var (
	mu        sync.Mutex
	out       io.Writer = os.Stdout
	enabled             = true
	service   string
	namespace           = DefaultNamespace
)

// Configure sets the destination, the on/off switch, and the ServiceName
// dimension added to every recorder. A nil writer keeps the current one.
func Configure(w io.Writer, on bool, serviceName string) {
	mu.Lock()
	defer mu.Unlock()
	if w != nil {
		out = w
	}
	enabled = on
	service = serviceName
}

// SetNamespace changes the namespace returned by Namespace. Empty is ignored.
func SetNamespace(ns string) {
	if ns == "" {
		return
	}
	mu.Lock()
	namespace = ns
	mu.Unlock()
}

// Namespace returns the configured CloudWatch namespace.
func Namespace() string {
	mu.Lock()
	defer mu.Unlock()
	return namespace
}

// Recorder accumulates dimensions, metrics and properties for a single flush.
// It is not safe for concurrent use; create one per operation.
type Recorder struct {
	namespace  string
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]float64
	properties map[string]any
}

// New creates a Recorder for namespace.
func New(namespace string) *Recorder {
	r := &Recorder{
		namespace:  namespace,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]float64),
		properties: make(map[string]any),
	}
	mu.Lock()
	if service != "" {
		r.dimensions["ServiceName"] = service
	}
	mu.Unlock()
	return r
}

// Dimension adds an indexed dimension.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named value with a CloudWatch unit.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	return r
}

// Count records a count metric with value 1.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Property adds a searchable, non-metric field.
func (r *Recorder) Property(key string, value any) *Recorder {
	r.properties[key] = value
	return r
}

// Flush writes the document as one line. Recorders with no metrics write nothing.
func (r *Recorder) Flush() {
	if len(r.metrics) == 0 {
		return
	}

	mu.Lock()
	defer mu.Unlock()
	if !enabled {
		return
	}

	data, err := r.marshal(time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: failed to marshal metrics: %v\n", err)
		return
	}
	out.Write(append(data, '\n'))
}

func (r *Recorder) marshal(now time.Time) ([]byte, error) {
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]metricDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.metrics[name])
	}

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	sort.Strings(dimKeys)

	doc := make(map[string]any, len(r.dimensions)+len(r.values)+len(r.properties)+1)
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	doc["_aws"] = emfDirective{
		Timestamp: now.UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    defs,
		}},
	}

	return json.Marshal(doc)
}
