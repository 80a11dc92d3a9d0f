package csvlog

import (
	"bufio"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kirsrus/meteohub/model"
	"github.com/kirsrus/meteohub/pkg/metrics"
	"github.com/kirsrus/meteohub/pkg/tool"
	"github.com/kirsrus/meteohub/store"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

const (
	defaultPrefix = "weather"
	// Ротация при превышении размера файла (в байтах)
	maxFileSize = 1048576
	// Сброс буфера после указанного числа записей
	flushRecords = 10
	// Сброс буфера по времени
	flushInterval = 300000 * time.Millisecond

	fileExt  = ".csv"
	filePerm = 0o644
	// Ограничение на число файлов ротации по размеру в течении суток
	maxDaySequence = 10000
)

// Причины ротации
const (
	reasonSize = "size"
	reasonDay  = "day"
)

// ErrNotLogFile имя не принадлежит журналу
var ErrNotLogFile = errors.New("файл не является файлом журнала")

// CsvLog журнал измерений в CSV файлах. Инициализируется через NewCsvLog. Файл журнала
// принадлежит только CsvLog. Ротация выполняется по размеру и по смене календарного дня.
// Ошибка записи переводит журнал в неготовое состояние, следующая запись открывает файл заново
type CsvLog struct {
	log     *logrus.Entry
	clock   tool.Clock
	metrics *metrics.Metrics
	loc     *time.Location

	dir    string
	prefix string

	maxFileSize   int64
	flushRecords  int
	flushInterval time.Duration

	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	name      string
	dayKey    string
	size      int64
	pending   int
	lastFlush time.Time

	written   uint64
	failed    uint64
	rotations uint64
}

// ConfigCsvLog конфигурация CsvLog
type ConfigCsvLog struct {
	Log     *logrus.Logger
	Clock   tool.Clock
	Metrics *metrics.Metrics
	// Зона для определения календарного дня. По умолчанию time.Local
	Location *time.Location

	// Каталог журнала
	Dir string
	// Префикс имени файла
	Prefix string

	MaxFileSize   int64
	FlushRecords  int
	FlushInterval time.Duration
}

// NewCsvLog конструктор CsvLog. Недоступность каталога не является ошибкой: журнал остаётся
// неготовым до первой удачной записи
func NewCsvLog(config *ConfigCsvLog) (*CsvLog, error) {
	if config == nil {
		return nil, errors.New("не установлен config")
	}
	if config.Log == nil {
		config.Log = logrus.New()
		config.Log.Out = ioutil.Discard
	}
	if config.Dir == "" {
		return nil, errors.New("не указан каталог журнала")
	}

	csv := CsvLog{
		log: config.Log.WithFields(map[string]interface{}{
			"module": "csvlog",
			"scope":  "store",
			"dir":    config.Dir,
		}),
		clock:   tool.SystemClock{},
		metrics: config.Metrics,
		loc:     time.Local,

		dir:    config.Dir,
		prefix: defaultPrefix,

		maxFileSize:   maxFileSize,
		flushRecords:  flushRecords,
		flushInterval: flushInterval,
	}
	if config.Clock != nil {
		csv.clock = config.Clock
	}
	if config.Location != nil {
		csv.loc = config.Location
	}
	if config.Prefix != "" {
		csv.prefix = config.Prefix
	}
	if config.MaxFileSize != 0 {
		csv.maxFileSize = config.MaxFileSize
	}
	if config.FlushRecords != 0 {
		csv.flushRecords = config.FlushRecords
	}
	if config.FlushInterval != 0 {
		csv.flushInterval = config.FlushInterval
	}

	csv.mu.Lock()
	if err := csv.open(csv.clock.Now()); err != nil {
		csv.log.Warnf("журнал не готов: %v", err)
	}
	csv.mu.Unlock()

	return &csv, nil
}

// WriteRecord записывает строку журнала. Перед записью проверяется необходимость ротации
func (m *CsvLog) WriteRecord(rec model.LogRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if m.file == nil {
		if err := m.open(now); err != nil {
			m.fail()
			return errors.Annotate(err, "журнал не готов")
		}
	} else if reason := m.rotationReason(now); reason != "" {
		if err := m.rotate(now, reason); err != nil {
			m.log.Warnf("ротация (%s) не выполнена, запись продолжается в %s: %v", reason, m.name, err)
		}
	}

	n, err := m.writer.WriteString(rec.Line())
	if err != nil {
		m.drop()
		m.fail()
		return errors.Annotate(err, "ошибка записи в журнал")
	}
	m.size += int64(n)
	m.pending++
	m.written++
	m.metrics.RecordWritten()

	if m.pending >= m.flushRecords || now.Sub(m.lastFlush) > m.flushInterval {
		if err := m.flush(now); err != nil {
			m.drop()
			m.fail()
			return errors.Annotate(err, "ошибка сброса журнала на диск")
		}
	}
	return nil
}

// NeedsRotation текущий файл пора сменить: превышен размер или сменился календарный день
func (m *CsvLog) NeedsRotation() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file != nil && m.rotationReason(m.clock.Now()) != ""
}

// IsReady журнал готов к записи
func (m *CsvLog) IsReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.file != nil
}

// Stats статистика журнала
func (m *CsvLog) Stats() store.LogStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return store.LogStats{
		Ready:     m.file != nil,
		File:      m.name,
		Size:      m.size,
		Written:   m.written,
		Failed:    m.failed,
		Rotations: m.rotations,
		Pending:   m.pending,
	}
}

// Flush сбрасывает буфер на диск. Сброс по таймеру выполняется при записи, Flush нужен для
// периодического сброса, когда записей нет
func (m *CsvLog) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	if err := m.flush(m.clock.Now()); err != nil {
		m.drop()
		m.fail()
		return errors.Annotate(err, "ошибка сброса журнала на диск")
	}
	return nil
}

// Close сбрасывает буфер и закрывает файл
func (m *CsvLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.writer.Flush()
	if cerr := m.file.Close(); err == nil {
		err = cerr
	}
	m.file, m.writer, m.pending = nil, nil, 0
	m.metrics.StorageReady(false)
	m.log.Infof("журнал %s закрыт", m.name)
	return errors.Trace(err)
}

// Files список файлов журнала по имени
func (m *CsvLog) Files() ([]store.LogFile, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, errors.Trace(err)
	}
	res := make([]store.LogFile, 0, len(entries))
	for _, v := range entries {
		if v.IsDir() || !m.isLogName(v.Name()) {
			continue
		}
		info, err := v.Info()
		if err != nil {
			continue
		}
		res = append(res, store.LogFile{
			Name:     v.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// FilePath путь к файлу журнала name
func (m *CsvLog) FilePath(name string) (string, error) {
	if filepath.Base(name) != name || !m.isLogName(name) {
		return "", errors.Annotatef(ErrNotLogFile, "\"%s\"", name)
	}
	path := filepath.Join(m.dir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", errors.NotFoundf("файл %s", name)
		}
		return "", errors.Trace(err)
	}
	return path, nil
}

func (m *CsvLog) isLogName(name string) bool {
	return strings.HasPrefix(name, m.prefix+"_") && strings.HasSuffix(name, fileExt)
}

// Причина ротации или пустая строка
func (m *CsvLog) rotationReason(now time.Time) string {
	if m.size > m.maxFileSize {
		return reasonSize
	}
	if tool.DayKey(now, m.loc) != m.dayKey {
		return reasonDay
	}
	return ""
}

// Смена файла. Новый файл открывается до закрытия старого: при ошибке открытия старый файл остаётся
func (m *CsvLog) rotate(now time.Time, reason string) error {
	prevFile, prevWriter, prevName := m.file, m.writer, m.name

	// Размер на диске должен совпадать с учтённым, иначе файл может быть выбран повторно
	if err := prevWriter.Flush(); err != nil {
		m.log.Warnf("ошибка сброса %s перед ротацией: %v", prevName, err)
	}
	m.pending = 0

	file, writer, name, size, err := m.openTarget(now, prevName)
	if err != nil {
		return errors.Trace(err)
	}

	if err := prevFile.Close(); err != nil {
		m.log.Warnf("ошибка закрытия %s: %v", prevName, err)
	}

	m.set(now, file, writer, name, size)
	m.rotations++
	m.metrics.Rotated(reason)
	m.log.Infof("ротация журнала (%s): %s -> %s", reason, prevName, name)
	return nil
}

// Открытие файла текущего дня
func (m *CsvLog) open(now time.Time) error {
	file, writer, name, size, err := m.openTarget(now, "")
	if err != nil {
		return errors.Trace(err)
	}
	m.set(now, file, writer, name, size)
	m.metrics.StorageReady(true)
	m.log.Infof("журнал %s открыт, размер %d", name, size)
	return nil
}

func (m *CsvLog) set(now time.Time, file *os.File, writer *bufio.Writer, name string, size int64) {
	m.file, m.writer, m.name, m.size = file, writer, name, size
	m.dayKey = tool.DayKey(now, m.loc)
	m.pending = 0
	m.lastFlush = now
}

// Открывает первый файл дня, размер которого ещё не превышен, кроме skip.
// Заголовок пишется только в новый файл
func (m *CsvLog) openTarget(now time.Time, skip string) (*os.File, *bufio.Writer, string, int64, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return nil, nil, "", 0, errors.Trace(err)
	}

	day := tool.DayKey(now, m.loc)
	for seq := 0; seq < maxDaySequence; seq++ {
		name := m.fileName(day, seq)
		if name == skip {
			continue
		}
		path := filepath.Join(m.dir, name)

		var size int64
		if info, err := os.Stat(path); err == nil {
			if info.IsDir() {
				continue
			}
			size = info.Size()
		} else if !os.IsNotExist(err) {
			return nil, nil, "", 0, errors.Trace(err)
		}
		if size > m.maxFileSize {
			continue
		}

		file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePerm)
		if err != nil {
			return nil, nil, "", 0, errors.Trace(err)
		}
		writer := bufio.NewWriter(file)
		if size == 0 {
			n, err := writer.WriteString(model.LogHeader + "\n")
			if err == nil {
				err = writer.Flush()
			}
			if err != nil {
				_ = file.Close()
				return nil, nil, "", 0, errors.Annotate(err, "ошибка записи заголовка")
			}
			size = int64(n)
		}
		return file, writer, name, size, nil
	}
	return nil, nil, "", 0, errors.Errorf("исчерпаны имена файлов журнала за %s", day)
}

func (m *CsvLog) fileName(day string, seq int) string {
	if seq == 0 {
		return fmt.Sprintf("%s_%s%s", m.prefix, day, fileExt)
	}
	return fmt.Sprintf("%s_%s_%d%s", m.prefix, day, seq, fileExt)
}

func (m *CsvLog) flush(now time.Time) error {
	if err := m.writer.Flush(); err != nil {
		return errors.Trace(err)
	}
	m.log.Debugf("сброшено %d записей, размер %s %d", m.pending, m.name, m.size)
	m.pending = 0
	m.lastFlush = now
	return nil
}

// Сброс файла после ошибки. Содержимое буфера теряется
func (m *CsvLog) drop() {
	if m.file != nil {
		_ = m.file.Close()
	}
	m.log.Warnf("журнал %s сброшен после ошибки", m.name)
	m.file, m.writer, m.pending = nil, nil, 0
	m.metrics.StorageReady(false)
}

func (m *CsvLog) fail() {
	m.failed++
	m.metrics.RecordFailed()
}
