package calibration

// DefaultOffset is the row shift applied to DefaultTable after the camera was
// remounted.
const DefaultOffset = -217

// DefaultTable returns the gauge table measured at the reference installation,
// in metres, before DefaultOffset is applied.
func DefaultTable() []Point {
	return []Point{
		{Row: 1297, Level: 0.40},
		{Row: 1120, Level: 1.30},
		{Row: 1080, Level: 1.40},
		{Row: 1045, Level: 1.50},
		{Row: 1017, Level: 1.60},
		{Row: 984, Level: 1.70},
		{Row: 950, Level: 1.80},
		{Row: 922, Level: 1.90},
		{Row: 892, Level: 2.00},
		{Row: 856, Level: 2.10},
		{Row: 822, Level: 2.20},
		{Row: 785, Level: 2.30},
		{Row: 750, Level: 2.40},
		{Row: 708, Level: 2.50},
		{Row: 670, Level: 2.60},
		{Row: 627, Level: 2.70},
		{Row: 585, Level: 2.80},
		{Row: 540, Level: 2.90},
		{Row: 495, Level: 3.00},
		{Row: 445, Level: 3.10},
		{Row: 400, Level: 3.20},
		{Row: 351, Level: 3.30},
		{Row: 304, Level: 3.40},
		{Row: 254, Level: 3.50},
		{Row: 206, Level: 3.60},
		{Row: 155, Level: 3.70},
		{Row: 105, Level: 3.80},
		{Row: 53, Level: 3.90},
		{Row: 20, Level: 4.00},
	}
}
