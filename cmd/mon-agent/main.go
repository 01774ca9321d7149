// mon-agent samples host CPU and memory on a fixed interval, reports them to
// the objective gateway's metrics ingress, and serves its own health check.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// metricsReport is the ingest payload the gateway expects.
type metricsReport struct {
	ServiceName string `json:"service_name"`
	Metrics     struct {
		CPU    float64 `json:"cpu"`
		Memory float64 `json:"memory"`
	} `json:"metrics"`
}

type agent struct {
	targetURL   string
	serviceName string
	interval    time.Duration
	client      *http.Client
}

func main() {
	godotenv.Load()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	a := &agent{
		targetURL:   os.Getenv("OBJECTIVE_VERIFIER_URL"),
		serviceName: getEnvOrDefault("MONITORED_SERVICE", "cartservice"),
		interval:    time.Duration(getEnvInt("AGENT_INTERVAL_SEC", 10)) * time.Second,
		client:      &http.Client{Timeout: 10 * time.Second},
	}

	if a.targetURL == "" {
		logrus.Warn("OBJECTIVE_VERIFIER_URL not set, running in report-only mode")
	}

	go serveHealth(getEnvOrDefault("HEALTH_PORT", "8000"))

	logrus.WithFields(logrus.Fields{
		"target":   a.targetURL,
		"service":  a.serviceName,
		"interval": a.interval,
	}).Info("mon-agent started")

	for {
		a.sweep()
		time.Sleep(a.interval)
	}
}

// sweep samples the host, prints the stats table and reports to the gateway.
func (a *agent) sweep() {
	cpuPercent, memMB, err := sample()
	if err != nil {
		logrus.WithError(err).Warn("Host sampling failed")
		return
	}

	printHostTable()

	if a.targetURL == "" {
		return
	}

	report := metricsReport{ServiceName: a.serviceName}
	report.Metrics.CPU = cpuPercent
	report.Metrics.Memory = memMB

	payload, err := json.Marshal(report)
	if err != nil {
		logrus.WithError(err).Warn("Failed to encode metrics report")
		return
	}

	resp, err := a.client.Post(a.targetURL+"/metrics", "application/json", bytes.NewReader(payload))
	if err != nil {
		logrus.WithError(err).Warn("Failed to deliver metrics report")
		return
	}
	resp.Body.Close()

	logrus.WithFields(logrus.Fields{
		"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
		"memory_mb":   fmt.Sprintf("%.2f", memMB),
		"status":      resp.StatusCode,
	}).Info("Metrics reported")
}

// sample returns aggregate CPU usage in percent and used memory in MB.
func sample() (float64, float64, error) {
	percents, err := cpu.Percent(time.Second, false)
	if err != nil || len(percents) == 0 {
		return 0, 0, fmt.Errorf("cpu sample: %w", err)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, fmt.Errorf("memory sample: %w", err)
	}

	return percents[0], float64(vm.Used) / 1e6, nil
}

// printHostTable renders the host stats grid for the operator log.
func printHostTable() {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Detail", "Value"})

	if counts, err := cpu.Counts(true); err == nil {
		table.Append([]string{"CPU Count", "logical", strconv.Itoa(counts)})
	}
	if avg, err := load.Avg(); err == nil {
		table.Append([]string{"System Load", "1 min", fmt.Sprintf("%.2f", avg.Load1)})
		table.Append([]string{"System Load", "5 min", fmt.Sprintf("%.2f", avg.Load5)})
		table.Append([]string{"System Load", "15 min", fmt.Sprintf("%.2f", avg.Load15)})
	}
	if percents, err := cpu.Percent(0, true); err == nil {
		for i, p := range percents {
			table.Append([]string{"CPU Usage (%)", fmt.Sprintf("Core %d", i), fmt.Sprintf("%.2f", p)})
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		table.Append([]string{"Virtual Memory (MB)", "Free", fmt.Sprintf("%.2f", float64(vm.Free)/1e6)})
		table.Append([]string{"Virtual Memory (%)", "Used", fmt.Sprintf("%.2f", vm.UsedPercent)})
	}
	if du, err := disk.Usage("/"); err == nil {
		table.Append([]string{"Disk Usage (MB)", "/", fmt.Sprintf("%.2f", float64(du.Free)/1e6)})
		table.Append([]string{"Disk Usage (%)", "/", fmt.Sprintf("%.2f", du.UsedPercent)})
	}

	table.Render()
}

func serveHealth(port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		logrus.WithError(err).Fatal("Health server failed")
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
