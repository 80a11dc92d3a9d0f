package db

import (
	"context"
	"fmt"
	"io/ioutil"
	"math"
	"sort"
	"time"

	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/tool"
	"github.com/kirsrus/meteohub/store"

	"github.com/juju/errors"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
	"gorm.io/gorm/clause"
)

const (
	cacheDuration = time.Minute
	cacheCleared  = 10 * time.Minute
)

// ErrUnknownSource неизвестный источник показаний
var ErrUnknownSource = errors.New("неизвестный источник показаний")

// Db обращение к базе данных архива. Инициируется через NewDb
type Db struct {
	ctx      context.Context
	log      *logrus.Entry
	db       *gorm.DB
	clock    tool.Clock
	location *time.Location

	historyCache *cache.Cache
}

// ConfigDb конфигурацияи класса NewDb
type ConfigDb struct {
	Log   *logrus.Logger
	Clock tool.Clock
	// Зона, в которой считаются сутки при сжатии истории. По умолчанию time.Local
	Location *time.Location
	DbFile   string
	// Время жизни закешированных ответов истории
	CacheDuration time.Duration
}

// NewDb конструктор класса Db
func NewDb(ctx context.Context, config *ConfigDb) (*Db, error) {
	if config == nil {
		return nil, errors.New("не указана конфигурация")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	if config.DbFile == "" {
		return nil, errors.New("в конфигурациине указан файл БД")
	}

	// Подключаемся к БД и запускаем миграции
	conn, err := gorm.Open(sqlite.Open(config.DbFile), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, errors.Annotate(err, "ошибка подключения к файлу БД")
	}
	err = conn.AutoMigrate(Reading{}, Node{})
	if err != nil {
		return nil, errors.Annotate(err, "ошибка миграции БД")
	}

	db := Db{
		ctx: ctx,
		log: config.Log.WithFields(map[string]interface{}{
			"module": "db",
			"scope":  "store",
		}),
		db:       conn,
		clock:    tool.SystemClock{},
		location: time.Local,
	}
	if config.Clock != nil {
		db.clock = config.Clock
	}
	if config.Location != nil {
		db.location = config.Location
	}
	duration := cacheDuration
	if config.CacheDuration != 0 {
		duration = config.CacheDuration
	}
	db.historyCache = cache.New(duration, cacheCleared)

	return &db, nil
}

// SaveSnapshot сохраняет показания из снимка: локальный датчик и узлы, которые на связи
func (m *Db) SaveSnapshot(snap *model.SystemSnapshot) error {
	if snap == nil {
		return errors.New("не передан снимок")
	}
	now := m.clock.Now().UTC()

	rows := make([]Reading, 0, 3)
	if snap.Local != nil {
		rows = append(rows, Reading{
			GormModelUnscoped: GormModelUnscoped{CreatedAt: now, UpdatedAt: now},
			Source:            string(model.SourceLocal),
			Temperature:       snap.Local.Temperature,
			Humidity:          snap.Local.Humidity,
			Pressure:          snap.Local.Pressure,
			IAQ:               snap.Local.IAQ,
			Version:           snap.Version,
		})
	}
	nodes := make([]Node, 0, 2)
	for _, view := range []model.PeerView{snap.Interior, snap.Exterior} {
		if view.Frame == nil {
			continue
		}
		lastSeen := snap.GeneratedAt.Add(-time.Duration(snap.GeneratedAtMs-view.LastUpdateMs) * time.Millisecond)
		nodes = append(nodes, Node{
			GormModelUnscoped: GormModelUnscoped{CreatedAt: now, UpdatedAt: now},
			Name:              view.Peer.String(),
			MAC:               view.MAC,
			LastSeen:          lastSeen.UTC(),
			LinkQuality:       view.Frame.LinkQuality,
		})
		if !view.Online {
			continue
		}
		rows = append(rows, Reading{
			GormModelUnscoped: GormModelUnscoped{CreatedAt: now, UpdatedAt: now},
			Source:            view.Peer.String(),
			Temperature:       view.Frame.Temperature,
			Humidity:          view.Frame.Humidity,
			Pressure:          view.Frame.Pressure,
			Light:             view.Frame.Light,
			Version:           snap.Version,
		})
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		if len(rows) != 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return errors.Annotate(err, "ошибка добавления показаний")
			}
		}
		if len(nodes) != 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"updated_at", "mac", "last_seen", "link_quality"}),
			}).Create(&nodes).Error
			if err != nil {
				return errors.Annotate(err, "ошибка обновления узлов")
			}
		}
		return nil
	})
	if err != nil {
		m.log.Warn(err)
		return errors.Trace(err)
	}
	if len(rows) != 0 {
		m.historyCache.Flush()
	}
	return nil
}

// ReadingLog возвращает показания источника source за days дней (со смещением offsetDays). Если
// compact=true - данные сжимаются до дней: средние значения и температурные минимум с максимумом
func (m *Db) ReadingLog(source model.Source, days uint, offsetDays uint, compact bool) ([]model.ReadingMetric, error) {
	if !source.Valid() {
		return nil, errors.Annotatef(ErrUnknownSource, "%q", source)
	}

	key := fmt.Sprintf("%s/%d/%d/%t", source, days, offsetDays, compact)
	if v, found := m.historyCache.Get(key); found {
		return v.([]model.ReadingMetric), nil
	}

	startDays, finishDays := m.calculateDate(days, offsetDays)
	rows := make([]Reading, 0)
	err := m.db.Where("source = ? AND created_at > ? AND created_at < ?", string(source), startDays, finishDays).
		Order("created_at").Find(&rows).Error
	if err != nil {
		m.log.Warn(err)
		return nil, errors.Trace(err)
	}

	result := make([]model.ReadingMetric, 0, len(rows))
	for _, v := range rows {
		metric := v.ToMetric()
		metric.Time = metric.Time.In(m.location)
		metric.Temperature = round(metric.Temperature)
		metric.MinTemp = metric.Temperature
		metric.MaxTemp = metric.Temperature
		result = append(result, metric)
	}

	// Сжатие истории при compact=true
	if compact {
		result = m.compactReadings(result)
	}

	m.historyCache.Set(key, result, cache.DefaultExpiration)
	return result, nil
}

// Nodes последние сведения об удалённых узлах
func (m *Db) Nodes() ([]store.NodeInfo, error) {
	rows := make([]Node, 0)
	if err := m.db.Order("name").Find(&rows).Error; err != nil {
		m.log.Warn(err)
		return nil, errors.Trace(err)
	}
	result := make([]store.NodeInfo, 0, len(rows))
	for _, v := range rows {
		result = append(result, store.NodeInfo{
			Name:        v.Name,
			MAC:         v.MAC,
			LastSeen:    v.LastSeen.In(m.location),
			LinkQuality: v.LinkQuality,
		})
	}
	return result, nil
}

// Сжатие истории до однодневной с указанием максимальной и минимальной температуры
func (m *Db) compactReadings(readings []model.ReadingMetric) []model.ReadingMetric {
	type day struct {
		metric model.ReadingMetric
		count  int
	}

	// Делаем промежуточную карту для объединения показаний в один день
	cacheLoc := make(map[string]*day)
	for _, v := range readings {
		date := tool.RoundToDate(v.Time)
		dateStr := date.Format(tool.DayKeyLayout)
		c, ok := cacheLoc[dateStr]
		if !ok {
			v.Time = date
			cacheLoc[dateStr] = &day{metric: v, count: 1}
			continue
		}
		c.metric.Temperature += v.Temperature
		c.metric.Humidity += v.Humidity
		c.metric.Pressure += v.Pressure
		c.metric.MaxTemp = math.Max(c.metric.MaxTemp, v.Temperature)
		c.metric.MinTemp = math.Min(c.metric.MinTemp, v.Temperature)
		c.count++
	}

	// Формируем окончательный результат
	result := make([]model.ReadingMetric, 0, len(cacheLoc))
	for _, v := range cacheLoc {
		n := float64(v.count)
		v.metric.Temperature = round(v.metric.Temperature / n)
		v.metric.Humidity = round(v.metric.Humidity / n)
		v.metric.Pressure = round(v.metric.Pressure / n)
		result = append(result, v.metric)
	}

	// Окончательная сортировка
	sort.Slice(result, func(i, j int) bool { return result[i].Time.Before(result[j].Time) })
	return result
}

// Вычисляет, начиная с текущей даты колличество дней days со смещением offset дней. Возвращается начало
// периода в startDate до finishDate
func (m *Db) calculateDate(days uint, offset uint) (startDate, finishDate time.Time) {
	finishDate = m.clock.Now().UTC().Add(-(time.Duration(offset) * time.Hour * 24))
	startDate = finishDate.Add(-(time.Duration(days) * time.Hour * 24)) // Всего дней
	return startDate, finishDate
}

// Clean очищает записи в БД старше days дней
func (m *Db) Clean(days int) error {
	m.log.Info("запуск процесса очистки старых данных архива")

	lastDate, _ := m.calculateDate(uint(days), 0)
	res := m.db.Where("created_at < ?", lastDate).Delete(&Reading{})
	if res.Error != nil {
		m.log.Warn(res.Error)
		return errors.Trace(res.Error)
	}
	if res.RowsAffected == 0 {
		m.log.Info("записей в архиве для удаления нет")
		return nil
	}
	m.log.Infof("из архива удалено записей: %d", res.RowsAffected)
	m.historyCache.Flush()
	return nil
}

// Close закрывает БД
func (m *Db) Close() error {
	sqlDb, err := m.db.DB()
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(sqlDb.Close())
}

// Округление до десятых
func round(v float64) float64 {
	return math.Round(v*10) / 10
}
