package monitor

import (
	"context"
	"strconv"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"

	"github.com/torosent/crankbench/internal/telemetry"
)

func init() {
	Register("CUs", func(o Options) Plugin { return &cusPlugin{cus: o.CUs} })
	Register("MemFree", func(Options) Plugin { return &memPlugin{} })
	Register("CPU", func(Options) Plugin { return &cpuPlugin{} })
	Register("Network", func(o Options) Plugin { return &netPlugin{iface: o.Interface} })
}

// cusPlugin reports the concurrent users of the running cycle.
type cusPlugin struct {
	cus func() int
}

func (p *cusPlugin) Name() string { return "CUs" }

func (p *cusPlugin) GetStat(context.Context) ([]telemetry.Field, error) {
	n := 0
	if p.cus != nil {
		n = p.cus()
	}
	return []telemetry.Field{{Name: "CUs", Value: strconv.Itoa(n)}}, nil
}

func (p *cusPlugin) ParseStats(samples []telemetry.Sample) []Series {
	s := Series{Name: "CUs", Unit: "users"}
	for _, sample := range samples {
		if v, ok := fieldValue(sample, "CUs"); ok {
			s.Points = append(s.Points, Point{Time: sample.Time, Value: v})
		}
	}
	return nonEmpty(s)
}

// memPlugin reports memory and swap in kB. Charts show the usage growth
// since the first sample.
type memPlugin struct{}

func (p *memPlugin) Name() string { return "MemFree" }

func (p *memPlugin) GetStat(ctx context.Context) ([]telemetry.Field, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	fields := []telemetry.Field{
		{Name: "MemTotal", Value: formatUint(vm.Total / 1024)},
		{Name: "MemFree", Value: formatUint(vm.Available / 1024)},
	}
	if sw, err := mem.SwapMemoryWithContext(ctx); err == nil {
		fields = append(fields,
			telemetry.Field{Name: "SwapTotal", Value: formatUint(sw.Total / 1024)},
			telemetry.Field{Name: "SwapFree", Value: formatUint(sw.Free / 1024)},
		)
	}
	return fields, nil
}

func (p *memPlugin) ParseStats(samples []telemetry.Sample) []Series {
	memUsed := Series{Name: "Memory used delta", Unit: "kB"}
	swapUsed := Series{Name: "Swap used delta", Unit: "kB"}
	var firstMem, firstSwap float64
	haveMem, haveSwap := false, false
	for _, sample := range samples {
		if v, ok := fieldValue(sample, "MemFree"); ok {
			if !haveMem {
				firstMem, haveMem = v, true
			}
			memUsed.Points = append(memUsed.Points, Point{Time: sample.Time, Value: firstMem - v})
		}
		if v, ok := fieldValue(sample, "SwapFree"); ok {
			if !haveSwap {
				firstSwap, haveSwap = v, true
			}
			swapUsed.Points = append(swapUsed.Points, Point{Time: sample.Time, Value: firstSwap - v})
		}
	}
	return nonEmpty(memUsed, swapUsed)
}

// cpuPlugin reports cumulative CPU jiffies and load averages. Usage is
// derived from the deltas between two samples.
type cpuPlugin struct{}

func (p *cpuPlugin) Name() string { return "CPU" }

func (p *cpuPlugin) GetStat(ctx context.Context) ([]telemetry.Field, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return nil, err
	}
	var total, idle float64
	for _, t := range times {
		total += t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
		idle += t.Idle + t.Iowait
	}
	fields := []telemetry.Field{
		{Name: "CPUTotalJiffies", Value: formatFloat(total)},
		{Name: "CPUIdleJiffies", Value: formatFloat(idle)},
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		fields = append(fields,
			telemetry.Field{Name: "loadAvg1min", Value: formatFloat(avg.Load1)},
			telemetry.Field{Name: "loadAvg5min", Value: formatFloat(avg.Load5)},
			telemetry.Field{Name: "loadAvg15min", Value: formatFloat(avg.Load15)},
		)
	}
	return fields, nil
}

func (p *cpuPlugin) ParseStats(samples []telemetry.Sample) []Series {
	usage := Series{Name: "CPU usage", Unit: "%"}
	load1 := Series{Name: "Load average 1 min", Unit: "load"}
	load5 := Series{Name: "Load average 5 min", Unit: "load"}
	load15 := Series{Name: "Load average 15 min", Unit: "load"}
	var prevTotal, prevIdle float64
	havePrev := false
	for _, sample := range samples {
		total, okT := fieldValue(sample, "CPUTotalJiffies")
		idle, okI := fieldValue(sample, "CPUIdleJiffies")
		if okT && okI {
			if havePrev && total > prevTotal {
				busy := 1 - (idle-prevIdle)/(total-prevTotal)
				usage.Points = append(usage.Points, Point{Time: sample.Time, Value: 100 * busy})
			}
			prevTotal, prevIdle, havePrev = total, idle, true
		}
		for _, l := range []struct {
			field string
			s     *Series
		}{{"loadAvg1min", &load1}, {"loadAvg5min", &load5}, {"loadAvg15min", &load15}} {
			if v, ok := fieldValue(sample, l.field); ok {
				l.s.Points = append(l.s.Points, Point{Time: sample.Time, Value: v})
			}
		}
	}
	return nonEmpty(usage, load1, load5, load15)
}

// netPlugin reports cumulative bytes of one interface, or of all of them.
type netPlugin struct {
	iface string
}

func (p *netPlugin) Name() string { return "Network" }

func (p *netPlugin) Config() []telemetry.Field {
	iface := p.iface
	if iface == "" {
		iface = "all"
	}
	return []telemetry.Field{{Name: "interface", Value: iface}}
}

func (p *netPlugin) GetStat(ctx context.Context) ([]telemetry.Field, error) {
	counters, err := psnet.IOCountersWithContext(ctx, p.iface != "")
	if err != nil {
		return nil, err
	}
	var recv, sent uint64
	for _, c := range counters {
		if p.iface != "" && c.Name != p.iface {
			continue
		}
		recv += c.BytesRecv
		sent += c.BytesSent
	}
	return []telemetry.Field{
		{Name: "receiveBytes", Value: formatUint(recv)},
		{Name: "transmitBytes", Value: formatUint(sent)},
	}, nil
}

func (p *netPlugin) ParseStats(samples []telemetry.Sample) []Series {
	in := Series{Name: "Network in", Unit: "kB/s"}
	out := Series{Name: "Network out", Unit: "kB/s"}
	var prev telemetry.Sample
	havePrev := false
	for _, sample := range samples {
		recv, okR := fieldValue(sample, "receiveBytes")
		sent, okS := fieldValue(sample, "transmitBytes")
		if !okR || !okS {
			continue
		}
		if havePrev {
			elapsed := sample.Time.Sub(prev.Time).Seconds()
			prevRecv, _ := fieldValue(prev, "receiveBytes")
			prevSent, _ := fieldValue(prev, "transmitBytes")
			if elapsed > 0 {
				in.Points = append(in.Points, Point{Time: sample.Time, Value: (recv - prevRecv) / 1024 / elapsed})
				out.Points = append(out.Points, Point{Time: sample.Time, Value: (sent - prevSent) / 1024 / elapsed})
			}
		}
		prev, havePrev = sample, true
	}
	return nonEmpty(in, out)
}

func nonEmpty(series ...Series) []Series {
	out := series[:0]
	for _, s := range series {
		if len(s.Points) > 0 {
			out = append(out, s)
		}
	}
	return out
}
