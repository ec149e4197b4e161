package logging

import (
	"fmt"
	"strings"
	"sync"
)

// Компоненты атласа: у каждого свой файл logs/<component>_<timestamp>.log
const (
	ComponentDetector  = "detector"
	ComponentStructure = "structure"
	ComponentStorage   = "storage"
	ComponentSync      = "sync"
	ComponentAPI       = "api"
)

// Components - все компоненты в порядке конвейера: чанк -> тайл -> хранилище -> клиенты
var Components = []string{ComponentDetector, ComponentStructure, ComponentStorage, ComponentSync, ComponentAPI}

// LoggerManager раздаёт логгеры компонентов и держит их уровни консоли.
// Уровень можно задать до создания логгера: он применится при создании.
type LoggerManager struct {
	mu        sync.RWMutex
	loggers   map[string]*Logger
	level     LogLevel
	overrides map[string]LogLevel
	create    func(component string) (*Logger, error)
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

func newManager(create func(string) (*Logger, error)) *LoggerManager {
	return &LoggerManager{
		loggers:   make(map[string]*Logger),
		level:     INFO,
		overrides: make(map[string]LogLevel),
		create:    create,
	}
}

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = newManager(NewLogger)
	})
	return globalManager
}

// Configure разбирает log_level вида "info,sync=debug,api=warn":
// элемент без "=" - общий уровень, остальные - уровни компонентов.
// Возвращает общий уровень.
func (lm *LoggerManager) Configure(spec string) (LogLevel, error) {
	base := INFO
	overrides := make(map[string]LogLevel)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		component, value, scoped := strings.Cut(part, "=")
		if !scoped {
			level, ok := LookupLevel(part)
			if !ok {
				return 0, fmt.Errorf("unknown log level %q", part)
			}
			base = level
			continue
		}
		component = strings.TrimSpace(component)
		if !isComponent(component) {
			return 0, fmt.Errorf("unknown log component %q (known: %s)", component, strings.Join(Components, ", "))
		}
		level, ok := LookupLevel(strings.TrimSpace(value))
		if !ok {
			return 0, fmt.Errorf("unknown log level %q for %s", value, component)
		}
		overrides[component] = level
	}

	lm.mu.Lock()
	lm.level = base
	lm.overrides = overrides
	for component, logger := range lm.loggers {
		logger.setConsoleLevel(lm.levelLocked(component))
	}
	lm.mu.Unlock()
	return base, nil
}

// SetComponentLevel задаёт уровень консоли одного компонента
func (lm *LoggerManager) SetComponentLevel(component string, level LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.overrides[component] = level
	if logger, ok := lm.loggers[component]; ok {
		logger.setConsoleLevel(level)
	}
}

// Level возвращает действующий уровень консоли компонента
func (lm *LoggerManager) Level(component string) LogLevel {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.levelLocked(component)
}

func (lm *LoggerManager) levelLocked(component string) LogLevel {
	if level, ok := lm.overrides[component]; ok {
		return level
	}
	return lm.level
}

// GetLogger возвращает логгер компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	logger, ok := lm.loggers[component]
	lm.mu.RUnlock()
	if ok {
		return logger, nil
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if logger, ok := lm.loggers[component]; ok {
		return logger, nil
	}

	logger, err := lm.create(component)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger for %s: %w", component, err)
	}
	logger.setConsoleLevel(lm.levelLocked(component))
	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер; если файл не создать - консольный
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err == nil {
		return logger
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	if logger, ok := lm.loggers[component]; ok {
		return logger
	}
	// Кешируем, чтобы Configure менял и уровень запасного логгера
	logger = &Logger{
		component:       component,
		consoleLogger:   defaultLogger.consoleLogger,
		minConsoleLevel: lm.levelLocked(component),
		minFileLevel:    ERROR,
	}
	lm.loggers[component] = logger
	return logger
}

// CloseAll закрывает файлы всех логгеров
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close logger for %s: %w", component, err)
		}
	}
	lm.loggers = make(map[string]*Logger)
	return lastErr
}

func isComponent(name string) bool {
	for _, c := range Components {
		if c == name {
			return true
		}
	}
	return false
}

// GetComponentLogger - логгер компонента из глобального менеджера
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetDetectorLogger() *Logger  { return GetComponentLogger(ComponentDetector) }
func GetStructureLogger() *Logger { return GetComponentLogger(ComponentStructure) }
func GetStorageLogger() *Logger   { return GetComponentLogger(ComponentStorage) }
func GetSyncLogger() *Logger      { return GetComponentLogger(ComponentSync) }
func GetAPILogger() *Logger       { return GetComponentLogger(ComponentAPI) }
