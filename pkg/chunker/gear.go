package chunker

// gearSeed 固定，修改它会改变所有切点
const gearSeed uint64 = 0x6e646e2d67656172

// gearTable 由 splitmix64 从固定种子生成
var gearTable = func() [256]uint64 {
	var t [256]uint64
	x := gearSeed
	for i := range t {
		x += 0x9e3779b97f4a7c15
		z := x
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		t[i] = z ^ (z >> 31)
	}
	return t
}()
