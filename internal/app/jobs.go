package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"github.com/talkincode/evopanel/internal/domain"
	"github.com/talkincode/evopanel/pkg/metrics"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedSystemMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	// Pairing material is short-lived; void anything the bridge let expire
	// so consoles stop rendering dead QR codes.
	_, err = a.sched.AddFunc("@every 1m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := a.instances.VoidExpiredQR(ctx)
		if err != nil {
			zap.L().Warn("expired qr sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			zap.L().Info("voided expired qr codes", zap.Int("count", n))
		}
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("@daily", func() {
		a.gormDB.
			Where("opt_time < ? ", time.Now().
				Add(-time.Hour*24*365)).Delete(domain.SysOprLog{})
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}
}

// SchedSystemMonitorTask samples host load into the metrics storage.
func (a *Application) SchedSystemMonitorTask() {
	percents, err := cpu.Percent(time.Second, false)
	if err == nil && len(percents) > 0 {
		metrics.InsertPoint("system_cpu_percent", percents[0])
	}
	vm, err := mem.VirtualMemory()
	if err == nil {
		metrics.InsertPoint("system_mem_percent", vm.UsedPercent)
	}
}
