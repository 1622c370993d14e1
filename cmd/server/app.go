package main

import (
	"go.uber.org/zap"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/attendance"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/salary"
	"github.com/warp/payroll-engine/store/sqlite"
)

// app is the wired process: one store shared by every service.
type app struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      *sqlite.Store
	Salary     *salary.Service
	Attendance *attendance.Service
	Payroll    *payroll.Service
	Handler    *api.Handler
}

func newApp(cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	salaries := salary.NewService(store, logger.Named("salary"))

	pay := payroll.NewService(store, store, store, store, logger.Named("payroll"))
	pay.Policy = cfg.RerunPolicy()

	att := attendance.NewService(store, store, store, logger.Named("attendance"))
	att.Workers = cfg.Attendance.FreezeWorkers
	att.Locks = pay

	handler := api.NewHandler(api.Deps{
		Employees:  store,
		Templates:  store,
		Records:    store,
		Salary:     salaries,
		Attendance: att,
		Payroll:    pay,
		Logger:     logger.Named("http"),
	})

	return &app{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		Salary:     salaries,
		Attendance: att,
		Payroll:    pay,
		Handler:    handler,
	}, nil
}

func (a *app) Close() error {
	defer a.Logger.Sync()
	return a.Store.Close()
}
