package config

import "time"

type (

	// Config конфигурация программы
	Config struct {

		// Описание логирования
		Log struct {

			// Путь к файлу лога
			Path string

			// Имя файал логирования
			Filename string `required:"true" default:"meteohub.log"`

			// Уровень логирования
			Level string `required:"true" default:"warning"`

			// Выводить лог только на консоль
			Console bool `default:"false"`
		}

		// Журнал измерений (CSV)
		Storage struct {

			// Каталог с файлами журнала
			Path string `default:"logs"`

			// Префикс имени файла: <prefix>_YYYY-MM-DD.csv
			Prefix string `default:"weather"`

			// Размер файла, после которого выполняется ротация (в байтах)
			MaxFileSize int64 `default:"1048576"`

			// Сброс буфера на диск после указанного числа записей
			FlushRecords int `default:"10"`

			// Сброс буфера на диск по таймеру (в милисекундах)
			FlushInterval time.Duration `default:"300000"`
		}

		// Удалённые узлы
		Peers struct {

			// Узел считается на связи, пока с последнего кадра прошло меньше (в милисекундах)
			OnlineTimeout time.Duration `default:"600000"`

			// Период запроса внеочередных данных у узлов (в милисекундах).
			// Отрицательное значение - не запрашивать
			RequestInterval time.Duration `default:"300000"`

			// Адрес WebSocket шлюза радиоканала, например ws://127.0.0.1:8000/radio
			Gateway string `required:"true" default:"ws://127.0.0.1:8000/radio"`

			// Пауза перед переподключением к шлюзу (в милисекундах)
			Reconnect time.Duration `default:"5000"`

			// Адреса узлов
			Nodes []Node
		}

		// Анализ истории
		Trend struct {

			// Ёмкость кольцевого буфера истории
			Capacity int `default:"144"`

			// Окно тренда давления (в отсчётах)
			PressureWindow int `default:"12"`

			// Окно тренда температуры (в отсчётах)
			TemperatureWindow int `default:"6"`
		}

		// Сборка снимка состояния
		Aggregator struct {

			// Период цикла измерений, в котором данные уходят в журнал и историю (в милисекундах).
			// Отрицательное значение - каждое показание
			ReadingInterval time.Duration `default:"300000"`
		}

		// Пороги тревог
		Alerts struct {
			Temperature  float64 `default:"30"`
			Humidity     float64 `default:"70"`
			PressureDrop float64 `default:"5"`
			IAQ          int     `default:"200"`
		}

		// Локальный датчик BME680
		Sensor struct {

			// Опрашивать датчик
			Enabled bool `default:"false"`

			// Каталог IIO устройства
			Path string `default:"/sys/bus/iio/devices/iio:device0"`

			// Период опроса (в милисекундах)
			Interval time.Duration `default:"30000"`
		}

		// Погода из OpenWeatherMap
		Weather struct {

			// Запрашивать погоду
			Enabled bool `default:"false"`

			// Адрес API
			URL string `default:"https://api.openweathermap.org/data/2.5"`

			// Ключ API
			ApiKey string

			// Координаты
			Lat float64
			Lon float64

			// Период обновления (в милисекундах)
			Interval time.Duration `default:"900000"`

			// Таймаут запроса (в милисекундах)
			Timeout time.Duration `default:"10000"`

			// Колличество попыток запроса
			Retries int `default:"3"`

			// Пауза между попытками (в милисекундах)
			RetryDelay time.Duration `default:"2000"`
		}

		// Обслуживание WEB-сервера
		Http struct {

			// Порт WEB-сервера
			Port uint `required:"true" default:"8080"`

			// Корень директории со статическим контентом
			AssetsDir string `default:"assets"`
		}

		// Публикация снимков в MQTT брокер
		Mqtt struct {

			// Публиковать снимки
			Enabled bool `default:"false"`

			// Адрес брокера, например mqtt://127.0.0.1:1883
			Broker string `default:"mqtt://127.0.0.1:1883"`

			// Топик публикации
			Topic string `default:"meteohub/snapshot"`

			// Префикс идентификатора клиента
			ClientPrefix string `default:"meteohub"`
		}

		// Описываем подключение к базе данных
		Db struct {

			// Тип базы данных (sqlite, mysql и т.п.)
			Type string `default:"sqlite"`

			// Путь к расположению базы данных
			Path string

			// Имя файла базы данных
			Filename string `required:"true" default:"meteohub.sqlite"`

			// Колличество дней хранения ахрива в днях
			ArchiveDays int `default:"30"`

			// Период очистки архива до ArchiveDays в минутах
			CleanArchiveInterval int `default:"30"`

			// Период сохранения снимков в архив (в милисекундах)
			ArchiveInterval time.Duration `default:"300000"`
		}

		// Текстовый дисплей
		Display struct {

			// Выводить панели
			Enabled bool `default:"false"`

			// Период смены панели (в милисекундах)
			Interval time.Duration `default:"5000"`
		}

		// Такты рассылки снимков
		Manager struct {

			// Период рассылки снимка потребителям (в милисекундах)
			FanoutInterval time.Duration `default:"1000"`
		}
	}

	// Node удалённый узел
	Node struct {

		// Имя узла: interior или exterior
		Name string `required:"true"`

		// MAC-адрес узла, например 24:6f:28:aa:bb:cc
		MAC string `required:"true"`
	}
)
