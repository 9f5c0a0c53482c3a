package service

import (
	"fmt"
	"log/slog"
	"time"

	"security-proxy-go/internal/config"
	"security-proxy-go/internal/headers"
)

// BuildStrategy turns the forwarding section of the config into a header
// strategy. tracer may be nil; when cfg.Trace is set a LogTracer is added.
func BuildStrategy(cfg config.ForwardingConfig, logger *slog.Logger, tracer headers.Tracer) (*headers.Strategy, error) {
	filters, err := buildFilters(cfg.Filters)
	if err != nil {
		return nil, err
	}
	providers, err := buildProviders(cfg.Providers)
	if err != nil {
		return nil, err
	}

	var tracers headers.MultiTracer
	if tracer != nil {
		tracers = append(tracers, tracer)
	}
	if cfg.Trace {
		tracers = append(tracers, headers.NewLogTracer(logger.With("component", "header_trace"), cfg.Redact))
	}

	opts := headers.Options{
		MountPrefix:            cfg.MountPrefix,
		SuppressAcceptEncoding: cfg.SuppressAcceptEncoding,
		Filters:                filters,
		Providers:              providers,
	}
	if len(tracers) > 0 {
		opts.Tracer = tracers
	}

	s, err := headers.NewStrategy(opts)
	if err != nil {
		return nil, fmt.Errorf("header strategy: %w", err)
	}
	return s, nil
}

func buildFilters(cfgs []config.FilterConfig) ([]headers.Filter, error) {
	filters := make([]headers.Filter, 0, len(cfgs))
	for i, fc := range cfgs {
		switch fc.Type {
		case config.FilterNames:
			filters = append(filters, headers.NewNameFilter(fc.Values...))
		case config.FilterPrefix:
			filters = append(filters, headers.NewPrefixFilter(fc.Values...))
		case config.FilterRegex:
			f, err := headers.NewRegexFilter(fc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("filter %d: %w", i, err)
			}
			filters = append(filters, f)
		case config.FilterHopByHop:
			filters = append(filters, headers.HopByHopFilter())
		case config.FilterReplace:
			filters = append(filters, headers.NewReplaceFilter(fc.Name, fc.Value))
		default:
			return nil, fmt.Errorf("filter %d: unknown type %q", i, fc.Type)
		}
	}
	return filters, nil
}

func buildProviders(cfgs []config.ProviderConfig) ([]headers.Provider, error) {
	providers := make([]headers.Provider, 0, len(cfgs))
	for i, pc := range cfgs {
		switch pc.Type {
		case config.ProviderStatic:
			req, err := parseLines(pc.Request)
			if err != nil {
				return nil, fmt.Errorf("provider %d: %w", i, err)
			}
			resp, err := parseLines(pc.Response)
			if err != nil {
				return nil, fmt.Errorf("provider %d: %w", i, err)
			}
			providers = append(providers, headers.NewStaticProvider(req, resp))
		case config.ProviderTimestamp:
			p, err := headers.NewTimestampProvider(pc.RequestHeader, pc.ResponseHeader, pc.Format)
			if err != nil {
				return nil, fmt.Errorf("provider %d: %w", i, err)
			}
			providers = append(providers, p)
		case config.ProviderSignature:
			ttl := time.Duration(pc.TTLSeconds) * time.Second
			p, err := headers.NewSignatureProvider(pc.Header, pc.Issuer, pc.Audience, []byte(pc.Secret), ttl)
			if err != nil {
				return nil, fmt.Errorf("provider %d: %w", i, err)
			}
			providers = append(providers, p)
		default:
			return nil, fmt.Errorf("provider %d: unknown type %q", i, pc.Type)
		}
	}
	return providers, nil
}

func parseLines(lines []string) ([]headers.Header, error) {
	hs := make([]headers.Header, 0, len(lines))
	for _, line := range lines {
		h, ok := headers.ParseLine(line)
		if !ok {
			return nil, fmt.Errorf("header %q must be \"Name: value\"", line)
		}
		hs = append(hs, h)
	}
	return hs, nil
}
