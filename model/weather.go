package model

import "time"

// ForecastDays количество дней прогноза
const ForecastDays = 5

// Weather погода из внешнего API
type Weather struct {
	Current  CurrentWeather `json:"current"`
	Forecast []ForecastDay  `json:"forecast"`
	// Время последнего успешного обновления
	UpdatedAt time.Time `json:"updated_at"`
}

// CurrentWeather текущая погода
type CurrentWeather struct {
	Temp        float64 `json:"temp"`
	FeelsLike   float64 `json:"feels_like"`
	Humidity    int     `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	WeatherCode int     `json:"weather_code"`
	Description string  `json:"description"`
	Icon        Icon    `json:"icon"`
	WindSpeed   float64 `json:"wind_speed"`
	UVIndex     float64 `json:"uv_index"`
	Cloudiness  int     `json:"cloudiness"`
	Visibility  float64 `json:"visibility"`
}

// ForecastDay прогноз на день
type ForecastDay struct {
	TempMax         float64 `json:"temp_max"`
	TempMin         float64 `json:"temp_min"`
	WeatherCode     int     `json:"weather_code"`
	RainProbability float64 `json:"rain_probability"`
	Rainfall        float64 `json:"rainfall"`
	Humidity        int     `json:"humidity"`
	WindSpeed       float64 `json:"wind_speed"`
}

// Icon иконка погоды для дисплея
type Icon uint8

const (
	IconSunny Icon = iota
	IconCloudy
	IconRainy
	IconThunderstorm
	IconSnow
	IconFoggy
)

// WeatherIcon сопоставление кода OpenWeatherMap иконке
func WeatherIcon(code int) Icon {
	switch {
	case code >= 200 && code < 300:
		return IconThunderstorm
	case code >= 300 && code < 400:
		return IconRainy // Морось
	case code >= 500 && code < 600:
		return IconRainy
	case code >= 600 && code < 700:
		return IconSnow
	case code >= 700 && code < 800:
		return IconFoggy
	case code == 800:
		return IconSunny
	}
	return IconCloudy
}

// WeatherDescription текстовое описание кода OpenWeatherMap
func WeatherDescription(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "Thunderstorm"
	case code >= 300 && code < 400:
		return "Drizzle"
	case code >= 500 && code < 600:
		return "Rainy"
	case code >= 600 && code < 700:
		return "Snowy"
	case code >= 700 && code < 800:
		return "Foggy"
	case code == 800:
		return "Clear"
	case code == 801:
		return "Partly Cloudy"
	case code > 801:
		return "Cloudy"
	}
	return "Unknown"
}
