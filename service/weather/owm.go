package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/metrics"
	"github.com/kirsrus/meteohub/pkg/tool"

	"github.com/juju/errors"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

const (
	BaseURL    = "https://api.openweathermap.org/data/2.5"
	Timeout    = 10 * time.Second
	Retries    = 3
	RetryDelay = 2 * time.Second

	// Прогноз идёт с шагом 3 часа: каждый 8-й элемент - следующие сутки
	forecastStep = 8
	// Срок жизни последних удачных данных
	cacheTTL = 3 * time.Hour
	cacheKey = "weather"
)

// ErrNoApiKey не задан ключ API
var ErrNoApiKey = errors.New("не задан ключ OpenWeatherMap")

// Owm клиент OpenWeatherMap. Инициализируется через NewOwm. Повторяет неудачный запрос
// Retries раз с паузой RetryDelay. При неудаче возвращает последние удачные данные вместе с ошибкой
type Owm struct {
	log     *logrus.Entry
	clock   tool.Clock
	metrics *metrics.Metrics
	client  *http.Client
	cache   *cache.Cache

	baseURL    string
	apiKey     string
	lat, lon   float64
	retries    int
	retryDelay time.Duration
}

// ConfigOwm конфигурация Owm
type ConfigOwm struct {
	Log     *logrus.Logger
	Clock   tool.Clock
	Metrics *metrics.Metrics

	URL        string
	ApiKey     string
	Lat        float64
	Lon        float64
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// NewOwm конструктор Owm
func NewOwm(config *ConfigOwm) (*Owm, error) {
	if config == nil {
		return nil, errors.New("не задана конфигурация config")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	if strings.TrimSpace(config.ApiKey) == "" {
		return nil, errors.Trace(ErrNoApiKey)
	}

	res := Owm{
		log: config.Log.WithFields(map[string]interface{}{
			"module": "weather",
			"scope":  "service",
		}),
		clock:   tool.SystemClock{},
		metrics: config.Metrics,
		client:  &http.Client{Timeout: Timeout},
		cache:   cache.New(cacheTTL, time.Hour),

		baseURL:    BaseURL,
		apiKey:     strings.TrimSpace(config.ApiKey),
		lat:        config.Lat,
		lon:        config.Lon,
		retries:    Retries,
		retryDelay: RetryDelay,
	}
	if config.Clock != nil {
		res.clock = config.Clock
	}
	if config.URL != "" {
		res.baseURL = strings.TrimSuffix(config.URL, "/")
	}
	if config.Timeout != 0 {
		res.client.Timeout = config.Timeout
	}
	if config.Retries != 0 {
		res.retries = config.Retries
	}
	// Хотя бы один запрос выполняется всегда
	if res.retries < 1 {
		res.retries = 1
	}
	if config.RetryDelay != 0 {
		res.retryDelay = config.RetryDelay
	}

	return &res, nil
}

// Fetch запрашивает текущую погоду и прогноз
func (m *Owm) Fetch(ctx context.Context) (*model.Weather, error) {
	var current currentResponse
	if err := m.getWithRetry(ctx, "weather", &current); err != nil {
		m.metrics.WeatherFetch(false)
		return m.lastGood(), errors.Annotate(err, "текущая погода")
	}
	var forecast forecastResponse
	if err := m.getWithRetry(ctx, "forecast", &forecast); err != nil {
		m.metrics.WeatherFetch(false)
		return m.lastGood(), errors.Annotate(err, "прогноз")
	}
	m.metrics.WeatherFetch(true)

	res := &model.Weather{
		Current:   current.toModel(),
		Forecast:  forecast.toModel(),
		UpdatedAt: m.clock.Now(),
	}
	m.cache.SetDefault(cacheKey, res)
	m.log.Debugf("погода обновлена: %.1f °C, %s", res.Current.Temp, res.Current.Description)
	return res, nil
}

// Последние удачные данные или nil
func (m *Owm) lastGood() *model.Weather {
	if v, ok := m.cache.Get(cacheKey); ok {
		return v.(*model.Weather)
	}
	return nil
}

func (m *Owm) getWithRetry(ctx context.Context, endpoint string, out interface{}) error {
	var err error
	for attempt := 1; attempt <= m.retries; attempt++ {
		if err = m.get(ctx, endpoint, out); err == nil {
			return nil
		}
		m.log.Warnf("попытка %d/%d запроса %s: %v", attempt, m.retries, endpoint, err)
		if attempt == m.retries {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-time.After(m.retryDelay):
		}
	}
	return errors.Trace(err)
}

func (m *Owm) get(ctx context.Context, endpoint string, out interface{}) error {
	query := url.Values{}
	query.Set("lat", strconv.FormatFloat(m.lat, 'f', 6, 64))
	query.Set("lon", strconv.FormatFloat(m.lon, 'f', 6, 64))
	query.Set("units", "metric")
	query.Set("appid", m.apiKey)
	URL := fmt.Sprintf("%s/%s?%s", m.baseURL, endpoint, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, URL, nil)
	if err != nil {
		return errors.Trace(err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("для %s возвращён статус %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Annotate(err, "некорректный json")
	}
	return nil
}

type weatherItem struct {
	ID   int    `json:"id"`
	Main string `json:"main"`
}

type currentResponse struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  float64 `json:"pressure"`
	} `json:"main"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Visibility float64       `json:"visibility"`
	Weather    []weatherItem `json:"weather"`
	UVI        float64       `json:"uvi"`
}

func (m currentResponse) toModel() model.CurrentWeather {
	res := model.CurrentWeather{
		Temp:       m.Main.Temp,
		FeelsLike:  m.Main.FeelsLike,
		Humidity:   m.Main.Humidity,
		Pressure:   m.Main.Pressure,
		WindSpeed:  m.Wind.Speed,
		UVIndex:    m.UVI,
		Cloudiness: m.Clouds.All,
		Visibility: m.Visibility,
	}
	if len(m.Weather) > 0 {
		res.WeatherCode = m.Weather[0].ID
		res.Description = m.Weather[0].Main
	}
	if res.Description == "" {
		res.Description = model.WeatherDescription(res.WeatherCode)
	}
	res.Icon = model.WeatherIcon(res.WeatherCode)
	return res
}

type forecastResponse struct {
	List []struct {
		Main struct {
			TempMax  float64 `json:"temp_max"`
			TempMin  float64 `json:"temp_min"`
			Humidity int     `json:"humidity"`
		} `json:"main"`
		Weather []weatherItem `json:"weather"`
		Wind    struct {
			Speed float64 `json:"speed"`
		} `json:"wind"`
		// Вероятность осадков 0-1
		Pop  float64 `json:"pop"`
		Rain struct {
			ThreeHours float64 `json:"3h"`
		} `json:"rain"`
	} `json:"list"`
}

func (m forecastResponse) toModel() []model.ForecastDay {
	res := make([]model.ForecastDay, 0, model.ForecastDays)
	for i := 0; i < len(m.List) && len(res) < model.ForecastDays; i += forecastStep {
		item := m.List[i]
		day := model.ForecastDay{
			TempMax:         item.Main.TempMax,
			TempMin:         item.Main.TempMin,
			Humidity:        item.Main.Humidity,
			RainProbability: item.Pop * 100,
			Rainfall:        item.Rain.ThreeHours,
			WindSpeed:       item.Wind.Speed,
		}
		if len(item.Weather) > 0 {
			day.WeatherCode = item.Weather[0].ID
		}
		res = append(res, day)
	}
	return res
}
