// Package catalog declares the SERP endpoints exposed as tools. Each entry is
// a descriptor; a handful of generic executors turn descriptors into handlers.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"serp-mcp/internal/adapter/tool"
	"serp-mcp/internal/domain"
	"serp-mcp/internal/usecase/taskflow"
)

// Endpoint describes one tool backed by the SERP API.
type Endpoint struct {
	Name        string
	Description string
	Kind        domain.ToolKind
	// Path is the live endpoint, the task base path (task_post, tasks_ready
	// and task_get are derived from it) or the lookup path for GET tools.
	Path   string
	Schema json.RawMessage
	// Lookup marks live tools answered by a GET; Query, if set, renders the
	// query string from the validated parameters.
	Lookup bool
	Query  func(domain.RequestEnvelope) string
}

// Endpoints returns the full catalog.
func Endpoints() []Endpoint {
	serp := objectSchema(serpFields(), serpRequired...)

	return []Endpoint{
		{
			Name:        "serp_google_organic_live",
			Description: "Get Google organic search results for a keyword in real time",
			Kind:        domain.KindLive,
			Path:        "/serp/google/organic/live",
			Schema:      serp,
		},
		{
			Name: "serp_google_organic_task",
			Description: "Get Google organic search results through the task queue: " +
				"the task is submitted, polled until ready and its result returned",
			Kind:   domain.KindTask,
			Path:   "/serp/google/organic",
			Schema: objectSchema(taskFields(), serpRequired...),
		},
		{
			Name:        "serp_google_maps_live",
			Description: "Get Google Maps results for a keyword and location in real time",
			Kind:        domain.KindLive,
			Path:        "/serp/google/maps/live/advanced",
			Schema: requireAny(objectSchema(mapsFields(), "keyword", "language_code"),
				"location_code", "location_name", "location_coordinate"),
		},
		liveSERP("serp_google_images_live", "Get Google Images results for a keyword in real time", "/serp/google/images/live", serp),
		liveSERP("serp_google_news_live", "Get Google News results for a keyword in real time", "/serp/google/news/live", serp),
		liveSERP("serp_google_jobs_live", "Get Google Jobs results for a keyword in real time", "/serp/google/jobs/live", serp),
		liveSERP("serp_google_shopping_live", "Get Google Shopping results for a keyword in real time", "/serp/google/shopping/live", serp),
		liveSERP("serp_bing_organic_live", "Get Bing organic search results for a keyword in real time", "/serp/bing/organic/live", serp),
		liveSERP("serp_yahoo_organic_live", "Get Yahoo organic search results for a keyword in real time", "/serp/yahoo/organic/live", serp),
		liveSERP("serp_baidu_organic_live", "Get Baidu organic search results for a keyword in real time", "/serp/baidu/organic/live", serp),
		liveSERP("serp_youtube_organic_live", "Get YouTube organic search results for a keyword in real time", "/serp/youtube/organic/live", serp),
		{
			Name:        "serp_google_locations",
			Description: "List location codes supported by Google SERP endpoints, optionally filtered by country",
			Kind:        domain.KindLive,
			Path:        "/serp/google/locations",
			Schema: objectSchema(map[string]field{
				"country": stringField("Filter locations by country name"),
			}),
			Lookup: true,
			Query:  countryQuery,
		},
		{
			Name:        "serp_google_languages",
			Description: "List language codes supported by Google SERP endpoints",
			Kind:        domain.KindLive,
			Path:        "/serp/google/languages",
			Schema:      objectSchema(map[string]field{}),
			Lookup:      true,
		},
	}
}

func liveSERP(name, desc, path string, schema json.RawMessage) Endpoint {
	return Endpoint{Name: name, Description: desc, Kind: domain.KindLive, Path: path, Schema: schema}
}

// Registrar is the part of the tool registry the catalog needs.
type Registrar interface {
	RegisterLive(name, description string, schema json.RawMessage, h tool.LiveHandler) error
	RegisterTask(name, description string, schema json.RawMessage,
		submit taskflow.SubmitFunc, checkReady taskflow.CheckReadyFunc, fetch taskflow.FetchFunc) error
}

// Register adds every endpoint not listed in disabled. It returns the names
// that were registered.
func Register(reg Registrar, endpoints []Endpoint, disabled []string, logger *slog.Logger) ([]string, error) {
	var names []string
	for _, ep := range endpoints {
		if slices.Contains(disabled, ep.Name) {
			logger.Info("tool disabled by configuration", "tool", ep.Name)
			continue
		}
		var err error
		switch {
		case ep.Kind == domain.KindTask:
			submit, checkReady, fetch := taskHandlers(ep)
			err = reg.RegisterTask(ep.Name, ep.Description, ep.Schema, submit, checkReady, fetch)
		case ep.Lookup:
			err = reg.RegisterLive(ep.Name, ep.Description, ep.Schema, lookupHandler(ep))
		default:
			err = reg.RegisterLive(ep.Name, ep.Description, ep.Schema, liveHandler(ep))
		}
		if err != nil {
			return names, fmt.Errorf("register %s: %w", ep.Name, err)
		}
		names = append(names, ep.Name)
	}
	return names, nil
}
