package vec

// Vec3 представляет трехмерный вектор с целочисленными координатами блока
type Vec3 struct {
	X int
	Y int
	Z int
}

// ToVec2 проецирует точку на горизонтальную плоскость (X, Z)
func (v Vec3) ToVec2() Vec2 {
	return Vec2{
		X: v.X,
		Y: v.Z,
	}
}

// Box - ограничивающий параллелепипед структуры, границы включительно
type Box struct {
	Min Vec3
	Max Vec3
}

// NewBox создаёт Box, упорядочивая углы
func NewBox(a, b Vec3) Box {
	return Box{
		Min: Vec3{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)},
		Max: Vec3{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)},
	}
}

// Center возвращает центр коробки (целочисленное деление, как у хоста)
func (b Box) Center() Vec3 {
	return Vec3{
		X: b.Min.X + (b.Max.X-b.Min.X+1)/2,
		Y: b.Min.Y + (b.Max.Y-b.Min.Y+1)/2,
		Z: b.Min.Z + (b.Max.Z-b.Min.Z+1)/2,
	}
}

// ChunkSpan возвращает диапазон чанков [min, max], который пересекает коробка
func (b Box) ChunkSpan() (Vec2, Vec2) {
	return b.Min.ToVec2().ToChunkCoords(), b.Max.ToVec2().ToChunkCoords()
}

// Union возвращает наименьшую коробку, содержащую обе
func (b Box) Union(o Box) Box {
	return NewBox(
		Vec3{X: min(b.Min.X, o.Min.X), Y: min(b.Min.Y, o.Min.Y), Z: min(b.Min.Z, o.Min.Z)},
		Vec3{X: max(b.Max.X, o.Max.X), Y: max(b.Max.Y, o.Max.Y), Z: max(b.Max.Z, o.Max.Z)},
	)
}
