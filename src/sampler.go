package main

import (
	"context"
	"log"

	"github.com/ryansname/sensorctl/src/config"
	"github.com/ryansname/sensorctl/src/sampling"
	"github.com/ryansname/sensorctl/src/sensors"
)

// ReadingSource reads every channel once, in channel order
type ReadingSource interface {
	SampleAll(ctx context.Context) []sampling.Reading
}

// Sampler reads the configured channels from the probe bus and combo sensor.
// It is owned by the scheduler goroutine.
type Sampler struct {
	channels []config.ChannelConfig
	probes   sensors.ProbeBus
	combo    sensors.ComboSensor
	lastErr  []string // Per channel, to log driver errors only when they change
}

// NewSampler creates a sampler. A nil driver makes its channels invalid.
func NewSampler(channels []config.ChannelConfig, probes sensors.ProbeBus, combo sensors.ComboSensor) *Sampler {
	return &Sampler{
		channels: channels,
		probes:   probes,
		combo:    combo,
		lastErr:  make([]string, len(channels)),
	}
}

// SampleAll requests one bus-wide conversion, then reads every channel.
// A failed channel yields an invalid reading and the rest carry on.
func (s *Sampler) SampleAll(ctx context.Context) []sampling.Reading {
	readings := make([]sampling.Reading, len(s.channels))
	converted := false

	for i, ch := range s.channels {
		var raw float64
		var err error

		switch ch.Kind {
		case config.KindProbe:
			if s.probes == nil {
				readings[i] = sampling.Invalid()
				continue
			}
			if !converted {
				// Probes still answer with their previous conversion if this fails
				if cerr := s.probes.RequestConversion(ctx); cerr != nil {
					log.Printf("Sampler: conversion request failed: %v\n", cerr)
				}
				converted = true
			}
			raw, err = s.probes.ReadCelsius(ctx, ch.Address)
			readings[i] = sensors.ValidateProbe(raw, err)

		case config.KindComboTemperature:
			if s.combo == nil {
				readings[i] = sampling.Invalid()
				continue
			}
			raw, err = s.combo.ReadTemperature(ctx)
			readings[i] = sensors.ValidateComboTemperature(raw, err)

		case config.KindComboHumidity:
			if s.combo == nil {
				readings[i] = sampling.Invalid()
				continue
			}
			raw, err = s.combo.ReadHumidity(ctx)
			readings[i] = sensors.ValidateComboHumidity(raw, err)

		default:
			readings[i] = sampling.Invalid()
		}

		s.noteError(i, err)
	}

	return readings
}

func (s *Sampler) noteError(i int, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if msg == s.lastErr[i] {
		return
	}
	s.lastErr[i] = msg

	if err != nil {
		log.Printf("Sampler: %s read failed: %v\n", s.channels[i].Key, err)
	} else {
		log.Printf("Sampler: %s recovered\n", s.channels[i].Key)
	}
}
