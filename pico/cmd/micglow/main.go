package main

import (
	"context"
	"log/slog"
	"machine"
	"time"

	"libdb.so/micglow/loudness"
	"libdb.so/micglow/matrix"
	"libdb.so/micglow/pico"
	"libdb.so/micglow/reactor"
)

func main() {
	// Give the USB serial console a moment to come up.
	time.Sleep(time.Second)

	logger := slog.New(slog.NewTextHandler(machine.Serial, nil))

	mic := pico.NewMic(pico.MicPin)
	strip := pico.NewStrip(pico.LEDPin)

	leds, err := matrix.New(strip, matrix.Options{})
	if err != nil {
		halt(err)
	}

	estimator, err := loudness.NewEstimator(mic, loudness.DefaultParams)
	if err != nil {
		halt(err)
	}

	ctrl, err := reactor.NewController(reactor.DefaultConfig, leds, estimator,
		reactor.WithLogger(logger))
	if err != nil {
		halt(err)
	}

	// Never returns: the context is never canceled.
	halt(ctrl.Run(context.Background()))
}

func halt(err error) {
	for {
		println(err.Error())
		time.Sleep(time.Second)
	}
}
