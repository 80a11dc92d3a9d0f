package web

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"

	"github.com/kirsrus/meteohub/model"

	"github.com/99designs/gqlgen/graphql"
	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/juju/errors"
	"github.com/labstack/echo"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Имена полей совпадают с JSON-представлением REST API
const schemaSDL = `
scalar Time

type Query {
  snapshot: Snapshot
  sensors: Sensors
  nodes: [Node!]
  status: Status!
  history(source: String = "exterior", days: Int = 1, offset: Int = 0, compact: Boolean = false): [ReadingMetric!]
}

type Snapshot {
  version: Int!
  generated_at_ms: Int!
  generated_at: Time!
  local: LocalReading
  interior: PeerView!
  exterior: PeerView!
  inference: Inference!
  weather: Weather
  storage_ready: Boolean!
  alerts: Alerts!
}

type LocalReading {
  temperature: Float!
  humidity: Float!
  pressure: Float!
  gas_resistance: Float!
  iaq: Int!
  timestamp: Time!
}

type PeerView {
  peer: String!
  online: Boolean!
  frame: Frame
  last_update_ms: Int!
  mac: String
}

type Frame {
  peer: String!
  temperature: Float!
  humidity: Float!
  pressure: Float!
  light: Float!
  link_quality: Int!
  timestamp: Int!
}

type Inference {
  pressure_trend: Int!
  temperature_trend: Int!
  rain_probability: Float!
  condition: String!
  pressure_delta: Float!
  samples: Int!
}

type Weather {
  current: CurrentWeather!
  forecast: [ForecastDay!]
  updated_at: Time!
}

type CurrentWeather {
  temp: Float!
  feels_like: Float!
  humidity: Int!
  pressure: Float!
  weather_code: Int!
  description: String!
  icon: Int!
  wind_speed: Float!
  uv_index: Float!
  cloudiness: Int!
  visibility: Float!
}

type ForecastDay {
  temp_max: Float!
  temp_min: Float!
  weather_code: Int!
  rain_probability: Float!
  rainfall: Float!
  humidity: Int!
  wind_speed: Float!
}

type Alerts {
  high_temperature: Boolean!
  high_humidity: Boolean!
  pressure_drop: Boolean!
  poor_air_quality: Boolean!
}

type Sensors {
  indoor_main: Reading
  indoor_secondary: Reading
  outdoor: Reading
}

type Reading {
  temperature: Float!
  humidity: Float!
  pressure: Float
  light: Float
  iaq: Int
}

type Node {
  name: String!
  mac: String!
  online: Boolean!
  rssi: Int!
  last_packet: Int!
  last_seen: Time
}

type Status {
  uptime: Int!
  snapshot_version: Int!
  goroutines: Int!
  ws_clients: Int!
  peers_online: Int!
  storage_ready: Boolean!
  gateway_connected: Boolean!
  storage: LogStats!
}

type LogStats {
  ready: Boolean!
  file: String!
  size: Int!
  written: Int!
  failed: Int!
  rotations: Int!
  pending: Int!
}

type ReadingMetric {
  time: Time!
  temperature: Float!
  humidity: Float!
  pressure: Float!
  min_temp: Float!
  max_temp: Float!
}
`

var schema = gqlparser.MustLoadSchema(&ast.Source{Name: "meteohub.graphql", Input: schemaSDL})

// GraphQL запросы к снимку, узлам, статусу и архиву. path - точка запросов, playground - страница
// интерактивной консоли (пустая строка - без консоли)
func (m *Web) GraphQL(path, playgroundPath string) {
	srv := handler.New(&executableSchema{web: m})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})

	m.e.Any(path, echo.WrapHandler(srv))
	if playgroundPath != "" {
		m.e.GET(playgroundPath, echo.WrapHandler(playground.Handler("meteohub", path)))
	}
}

// Исполнение запросов без сгенерированного кода: значения полей берутся из JSON-представления
// тех же структур, что отдаёт REST API
type executableSchema struct {
	web *Web
}

func (m *executableSchema) Schema() *ast.Schema {
	return schema
}

func (m *executableSchema) Complexity(typeName, fieldName string, childComplexity int, args map[string]interface{}) (int, bool) {
	return 0, false
}

func (m *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	oc := graphql.GetOperationContext(ctx)
	var done bool
	return func(ctx context.Context) *graphql.Response {
		if done {
			return nil
		}
		done = true

		if oc.Operation.Operation != ast.Query {
			return &graphql.Response{Errors: gqlerror.List{gqlerror.Errorf("поддерживаются только запросы query")}}
		}
		var errs gqlerror.List
		data := m.query(oc, &errs)
		raw, err := json.Marshal(data)
		if err != nil {
			errs = append(errs, gqlerror.Errorf("кодирование ответа: %v", err))
			return &graphql.Response{Errors: errs}
		}
		return &graphql.Response{Data: raw, Errors: errs}
	}
}

func (m *executableSchema) query(oc *graphql.OperationContext, errs *gqlerror.List) object {
	fields := graphql.CollectFields(oc, oc.Operation.SelectionSet, []string{"Query"})
	res := make(object, 0, len(fields))
	for _, f := range fields {
		if f.Name == "__typename" {
			res = append(res, field{f.Alias, "Query"})
			continue
		}
		value, err := m.resolve(f.Field, oc.Variables)
		if err != nil {
			*errs = append(*errs, gqlerror.Errorf("%s: %v", f.Alias, err))
			res = append(res, field{f.Alias, nil})
			continue
		}
		generic, err := toGeneric(value)
		if err != nil {
			*errs = append(*errs, gqlerror.Errorf("%s: %v", f.Alias, err))
			res = append(res, field{f.Alias, nil})
			continue
		}
		res = append(res, field{f.Alias, project(oc, f.Definition.Type.Name(), generic, f.Selections)})
	}
	return res
}

// Значение корневого поля
func (m *executableSchema) resolve(f *ast.Field, vars map[string]interface{}) (interface{}, error) {
	snap := m.web.source.Snapshot()
	switch f.Name {
	case "snapshot":
		if snap == nil {
			return nil, nil
		}
		return snap, nil
	case "sensors":
		if snap == nil {
			return nil, nil
		}
		return sensorsView(snap), nil
	case "nodes":
		if snap == nil {
			return nil, nil
		}
		return m.web.nodesView(snap), nil
	case "status":
		return m.web.statusView(), nil
	case "history":
		args := f.ArgumentMap(vars)
		source, _ := args["source"].(string)
		days, err := uintArg(args["days"])
		if err != nil {
			return nil, errors.Annotate(err, "days")
		}
		offset, err := uintArg(args["offset"])
		if err != nil {
			return nil, errors.Annotate(err, "offset")
		}
		compact, _ := args["compact"].(bool)
		return m.web.readingLog(model.Source(source), days, offset, compact)
	}
	return nil, errors.Errorf("неизвестное поле %s", f.Name)
}

// Выборка полей selections из значения, приведённого к JSON-типам
func project(oc *graphql.OperationContext, typeName string, value interface{}, selections ast.SelectionSet) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		fields := graphql.CollectFields(oc, selections, []string{typeName})
		res := make(object, 0, len(fields))
		for _, f := range fields {
			if f.Name == "__typename" {
				res = append(res, field{f.Alias, typeName})
				continue
			}
			res = append(res, field{f.Alias, project(oc, f.Definition.Type.Name(), v[f.Name], f.Selections)})
		}
		return res
	case []interface{}:
		res := make([]interface{}, len(v))
		for i := range v {
			res[i] = project(oc, typeName, v[i], selections)
		}
		return res
	}
	return value
}

func toGeneric(value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, errors.Trace(err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var res interface{}
	if err := dec.Decode(&res); err != nil {
		return nil, errors.Trace(err)
	}
	return res, nil
}

func uintArg(v interface{}) (uint, error) {
	var n int64
	switch v := v.(type) {
	case nil:
		return 0, nil
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		n = int64(v)
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, errors.Trace(err)
		}
		n = i
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, errors.Trace(err)
		}
		n = i
	default:
		return 0, errors.Errorf("неподдерживаемый тип %T", v)
	}
	if n < 0 {
		return 0, errors.Errorf("отрицательное значение %d", n)
	}
	return uint(n), nil
}

// Объект ответа с порядком полей как в запросе
type field struct {
	key   string
	value interface{}
}

type object []field

func (o object) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range o {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		value, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		b.Write(value)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}
