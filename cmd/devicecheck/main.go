// Command devicecheck creates a logical device on the best available GPU,
// runs a one-time submission on every queue class and tears everything down.
package main

import (
	"context"
	"flag"
	"log"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/veandco/go-sdl2/sdl"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"github.com/vkngwrapper/devicemanager/config"
	"github.com/vkngwrapper/devicemanager/device"
	"github.com/vkngwrapper/devicemanager/logging"
	"github.com/vkngwrapper/devicemanager/vkbackend"
)

type check struct {
	cfg    *config.Config
	logger *slog.Logger

	loaded   bool
	window   *sdl.Window
	instance *vkbackend.Instance
	manager  *device.Manager
}

func (c *check) Run(ctx context.Context) error {
	defer c.cleanup()

	global, err := vkbackend.LoadVulkan()
	if err != nil {
		return err
	}
	c.loaded = true

	if c.cfg.Instance.PresentProbe {
		c.window, err = vkbackend.ProbeWindow(c.cfg.Instance.ApplicationName)
		if err != nil {
			return err
		}
	}

	c.instance, err = vkbackend.CreateInstance(global, vkbackend.InstanceOptions{
		ApplicationName: c.cfg.Instance.ApplicationName,
		Validation:      c.cfg.Instance.Validation,
		Window:          c.window,
		Logger:          c.logger,
	})
	if err != nil {
		return err
	}

	candidates, err := c.instance.PhysicalDevices()
	if err != nil {
		return err
	}
	for _, candidate := range candidates {
		c.logger.Info("found physical device",
			"device", candidate.String(),
			"score", device.RateSuitability(candidate, c.cfg.Device.Extensions...))
	}

	physical, err := device.SelectPhysicalDevice(candidates, c.cfg.Device.Extensions...)
	if err != nil {
		return err
	}

	c.manager = device.New(c.instance, c.cfg.DeviceOptions(c.logger)...)
	if err := c.manager.Create(physical, c.cfg.Device.Extensions...); err != nil {
		return err
	}

	return c.submitAll(ctx)
}

func (c *check) submitAll(ctx context.Context) error {
	queues := []device.QueueFlags{device.QueueGraphics, device.QueueCompute, device.QueueTransfer}
	if !c.cfg.Device.SerializeSubmissions {
		for _, queue := range queues {
			if err := c.submit(ctx, queue); err != nil {
				return err
			}
		}
		return nil
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, queue := range queues {
		queue := queue
		group.Go(func() error {
			return c.submit(ctx, queue)
		})
	}
	return group.Wait()
}

func (c *check) submit(ctx context.Context, queue device.QueueFlags) error {
	start := hrtime.Now()
	err := c.manager.WithCommandBuffer(ctx, func(cb device.CommandBuffer) error {
		_, _, err := vkbackend.Commands(c.manager.Device(), cb)
		return err
	}, device.OnQueue(queue))
	if err != nil {
		return errors.Wrapf(err, "submit on %s queue", queue)
	}

	c.logger.Info("submission complete",
		"queue", queue.String(),
		"family", c.manager.Families().ForQueue(queue),
		"elapsed", hrtime.Since(start))
	return nil
}

func (c *check) cleanup() {
	if c.manager != nil {
		c.manager.Destroy()
	}

	if c.instance != nil {
		c.instance.Destroy()
	}

	if c.window != nil {
		c.window.Destroy()
	}

	if c.loaded {
		vkbackend.UnloadVulkan()
	}
}

func main() {
	runtime.LockOSThread()

	configPath := flag.String("config", "", "path to a YAML config file")
	validation := flag.Bool("validation", false, "enable the Khronos validation layer")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("%+v\n", err)
		}
	}
	if *validation {
		cfg.Instance.Validation = true
	}

	app := &check{
		cfg:    cfg,
		logger: logging.Init(cfg.Logging.Level, cfg.Logging.Format),
	}

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("%+v\n", err)
	}
}
