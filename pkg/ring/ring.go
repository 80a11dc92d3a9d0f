// Package ring кольцевой буфер фиксированной ёмкости с перезаписью самых старых элементов
package ring

// Buffer кольцевой буфер. Инициализируется через New. Не потокобезопасен: синхронизацию
// обеспечивает владелец
type Buffer[T any] struct {
	items  []T
	next   int // Индекс следующей записи
	filled int
}

// New конструктор Buffer ёмкостью capacity (не меньше 1)
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push записывает v на место текущего индекса записи и сдвигает индекс по модулю ёмкости.
// При заполненном буфере перезаписывается самый старый элемент
func (b *Buffer[T]) Push(v T) {
	b.items[b.next] = v
	b.next = (b.next + 1) % len(b.items)
	if b.filled < len(b.items) {
		b.filled++
	}
}

// At возвращает элемент со смещением offset от самого нового (0 - самый новый).
// ok=false, если такого элемента ещё нет
func (b *Buffer[T]) At(offset int) (v T, ok bool) {
	if offset < 0 || offset >= b.filled {
		return v, false
	}
	idx := (b.next - 1 - offset + 2*len(b.items)) % len(b.items)
	return b.items[idx], true
}

// Filled количество записанных элементов, насыщается на ёмкости
func (b *Buffer[T]) Filled() int {
	return b.filled
}

// Cap ёмкость буфера
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Values копия содержимого от самого старого к самому новому
func (b *Buffer[T]) Values() []T {
	res := make([]T, 0, b.filled)
	for i := b.filled - 1; i >= 0; i-- {
		v, _ := b.At(i)
		res = append(res, v)
	}
	return res
}

// Each обходит элементы от самого старого к самому новому без копирования буфера
func (b *Buffer[T]) Each(fn func(v T)) {
	for i := b.filled - 1; i >= 0; i-- {
		v, _ := b.At(i)
		fn(v)
	}
}
