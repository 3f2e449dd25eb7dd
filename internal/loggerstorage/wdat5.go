package loggerstorage

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// wdat5 is the archive format of Davis Instruments weather stations
// (WeatherLink).  The storage path is a directory with one file per
// month, named YYYY-MM.wlk.  Each file starts with a header holding an
// index of the records of each day, followed by fixed size records.

const (
	wdatHeaderSize = 212
	wdatRecordSize = 88
	wdatSignature  = "WDAT5."
	wdatDays       = 31
)

var wdatFilename = regexp.MustCompile(`^\d{4}-\d{2}\.wlk$`)

// wdatKind is the binary representation of a record item.
type wdatKind int

const (
	int8Kind wdatKind = iota
	uint8Kind
	int16Kind
	uint16Kind
)

type wdatItem struct {
	name string
	kind wdatKind
}

// wdatLayout is the little endian layout of a record.  The items after
// packedtime are the variables a storage may produce.
var wdatLayout = []wdatItem{
	{"datatype", int8Kind},
	{"archiveinterval", int8Kind},
	{"iconflags", int8Kind},
	{"moreflags", int8Kind},
	{"packedtime", int16Kind},
	{"outsidetemp", int16Kind},
	{"hioutsidetemp", int16Kind},
	{"lowoutsidetemp", int16Kind},
	{"insidetemp", int16Kind},
	{"barometer", int16Kind},
	{"outsidehum", int16Kind},
	{"insidehum", int16Kind},
	{"rain", uint16Kind},
	{"hirainrate", int16Kind},
	{"windspeed", int16Kind},
	{"hiwindspeed", int16Kind},
	{"winddirection", int8Kind},
	{"hiwinddirection", int8Kind},
	{"numwindsamples", int16Kind},
	{"solarrad", int16Kind},
	{"hisolarrad", int16Kind},
	{"uv", uint8Kind},
	{"hiuv", uint8Kind},
	{"leaftemp1", int8Kind},
	{"leaftemp2", int8Kind},
	{"leaftemp3", int8Kind},
	{"leaftemp4", int8Kind},
	{"extrarad", int16Kind},
	{"newsensors1", int16Kind},
	{"newsensors2", int16Kind},
	{"newsensors3", int16Kind},
	{"newsensors4", int16Kind},
	{"newsensors5", int16Kind},
	{"newsensors6", int16Kind},
	{"forecast", int8Kind},
	{"et", uint8Kind},
	{"soiltemp1", int8Kind},
	{"soiltemp2", int8Kind},
	{"soiltemp3", int8Kind},
	{"soiltemp4", int8Kind},
	{"soiltemp5", int8Kind},
	{"soiltemp6", int8Kind},
	{"soilmoisture1", int8Kind},
	{"soilmoisture2", int8Kind},
	{"soilmoisture3", int8Kind},
	{"soilmoisture4", int8Kind},
	{"soilmoisture5", int8Kind},
	{"soilmoisture6", int8Kind},
	{"leafwetness1", int8Kind},
	{"leafwetness2", int8Kind},
	{"leafwetness3", int8Kind},
	{"leafwetness4", int8Kind},
	{"extratemp1", int8Kind},
	{"extratemp2", int8Kind},
	{"extratemp3", int8Kind},
	{"extratemp4", int8Kind},
	{"extratemp5", int8Kind},
	{"extratemp6", int8Kind},
	{"extratemp7", int8Kind},
	{"extrahum1", int8Kind},
	{"extrahum2", int8Kind},
	{"extrahum3", int8Kind},
	{"extrahum4", int8Kind},
	{"extrahum5", int8Kind},
	{"extrahum6", int8Kind},
	{"extrahum7", int8Kind},
}

// Index of the first variable in wdatLayout.
const wdatFirstVariable = 5

// wdatLabels returns the names of the variables, which are also the
// names of the parameters that map them to variable ids.
func wdatLabels() []string {
	labels := make([]string, 0, len(wdatLayout)-wdatFirstVariable)
	for _, item := range wdatLayout[wdatFirstVariable:] {
		labels = append(labels, item.name)
	}
	return labels
}

// wdatUnits are the units the values are returned in.
type wdatUnits struct {
	temperature     string
	rain            string
	windSpeed       string
	pressure        string
	matricPotential string
}

// wdatUnitParameters lists the unit parameters and their choices; the
// first choice is the default.
var wdatUnitParameters = []struct {
	name    string
	choices []string
	set     func(u *wdatUnits, v string)
}{
	{"temperature_unit", []string{"C", "F"}, func(u *wdatUnits, v string) { u.temperature = v }},
	{"rain_unit", []string{"mm", "inch"}, func(u *wdatUnits, v string) { u.rain = v }},
	{"wind_speed_unit", []string{"m/s", "mph"}, func(u *wdatUnits, v string) { u.windSpeed = v }},
	{"pressure_unit", []string{"hPa", "inch Hg"}, func(u *wdatUnits, v string) { u.pressure = v }},
	{"matric_potential_unit", []string{"centibar", "cm"}, func(u *wdatUnits, v string) { u.matricPotential = v }},
}

// Physical constants of the conversions.
const (
	mmPerInch        = 25.4
	hPaPerMmHg       = 1.33322387415
	metersPerMile    = 1609.344
	cmH2OFactor      = 9.80638
)

// wdatConverter converts the raw value x of an item into the configured
// unit.  Some conversions also need other items of the raw record.
type wdatConverter func(u wdatUnits, x float64, raw map[string]float64) (float64, error)

// wdatConversions maps item names to their conversions.  Items not
// listed are returned raw.
var wdatConversions = map[string]wdatConverter{}

func init() {
	for _, name := range []string{"outsidetemp", "hioutsidetemp", "lowoutsidetemp", "insidetemp"} {
		wdatConversions[name] = convertTenthsFahrenheit
	}
	for _, name := range []string{
		"extratemp1", "extratemp2", "extratemp3", "extratemp4", "extratemp5", "extratemp6", "extratemp7",
		"soiltemp1", "soiltemp2", "soiltemp3", "soiltemp4", "soiltemp5", "soiltemp6",
		"leaftemp1", "leaftemp2", "leaftemp3", "leaftemp4",
	} {
		wdatConversions[name] = convertOffsetFahrenheit
	}
	wdatConversions["barometer"] = convertBarometer
	wdatConversions["outsidehum"] = scale(0.1)
	wdatConversions["insidehum"] = scale(0.1)
	wdatConversions["rain"] = convertRain
	wdatConversions["hirainrate"] = convertRainRate
	wdatConversions["windspeed"] = convertWindSpeed
	wdatConversions["hiwindspeed"] = convertWindSpeed
	wdatConversions["winddirection"] = convertWindDirection
	wdatConversions["hiwinddirection"] = convertWindDirection
	wdatConversions["uv"] = scale(0.1)
	wdatConversions["hiuv"] = scale(0.1)
	wdatConversions["et"] = convertET
	for i := 1; i <= 6; i++ {
		wdatConversions["soilmoisture"+strconv.Itoa(i)] = convertMatricPotential
	}

	optional := append([]string{}, wdatLabels()...)
	for _, p := range wdatUnitParameters {
		optional = append(optional, p.name)
	}
	formats.register("wdat5", factory{optional: optional, create: newWdat5})
}

func fahrenheit(u wdatUnits, f float64) float64 {
	if u.temperature == "F" {
		return f
	}
	return (f - 32) * 5 / 9
}

func convertTenthsFahrenheit(u wdatUnits, x float64, _ map[string]float64) (float64, error) {
	return fahrenheit(u, x/10), nil
}

// Extra, soil and leaf temperatures are whole degrees offset by 90.
func convertOffsetFahrenheit(u wdatUnits, x float64, _ map[string]float64) (float64, error) {
	return fahrenheit(u, x-90), nil
}

func convertBarometer(u wdatUnits, x float64, _ map[string]float64) (float64, error) {
	inHg := x / 1000
	if u.pressure == "inch Hg" {
		return inHg, nil
	}
	return inHg * mmPerInch * hPaPerMmHg, nil
}

func scale(factor float64) wdatConverter {
	return func(_ wdatUnits, x float64, _ map[string]float64) (float64, error) {
		return x * factor, nil
	}
}

// rainPerClick returns the depth, in mm, of one click of the rain
// collector.  The collector type is the high nibble of the rain item.
func rainPerClick(raw map[string]float64) (float64, error) {
	collector := int(raw["rain"]) & 0xF000
	switch collector {
	case 0x0000:
		return 0.1 * mmPerInch, nil
	case 0x1000:
		return 0.01 * mmPerInch, nil
	case 0x2000:
		return 0.2, nil
	case 0x3000:
		return 1.0, nil
	case 0x6000:
		return 0.1, nil
	}
	return 0, fmt.Errorf("unknown rain collector type 0x%04x", collector)
}

func rainDepth(u wdatUnits, mm float64) float64 {
	if u.rain == "inch" {
		return mm / mmPerInch
	}
	return mm
}

func convertRain(u wdatUnits, x float64, raw map[string]float64) (float64, error) {
	perClick, err := rainPerClick(raw)
	if err != nil {
		return 0, err
	}
	clicks := float64(int(x) & 0x0FFF)
	return rainDepth(u, clicks*perClick), nil
}

func convertRainRate(u wdatUnits, x float64, raw map[string]float64) (float64, error) {
	perClick, err := rainPerClick(raw)
	if err != nil {
		return 0, err
	}
	return rainDepth(u, x*perClick), nil
}

func convertWindSpeed(u wdatUnits, x float64, _ map[string]float64) (float64, error) {
	mph := x / 10
	if u.windSpeed == "mph" {
		return mph, nil
	}
	return mph * metersPerMile / 3600, nil
}

// Wind directions are in 16 compass steps; negative means calm or
// missing.
func convertWindDirection(_ wdatUnits, x float64, _ map[string]float64) (float64, error) {
	if x < 0 {
		return math.NaN(), nil
	}
	return x / 16 * 360, nil
}

// Evapotranspiration is in thousandths of an inch.
// convertET returns thousandths of the raw value, multiplied by 25.4
// when rain_unit is inch.
func convertET(u wdatUnits, x float64, _ map[string]float64) (float64, error) {
	et := x / 1000
	if u.rain == "inch" {
		return et * mmPerInch, nil
	}
	return et, nil
}

// convertMatricPotential divides centibars by 9.80638 for cm.
func convertMatricPotential(u wdatUnits, x float64, _ map[string]float64) (float64, error) {
	if u.matricPotential == "cm" {
		return x / cmH2OFactor, nil
	}
	return x, nil
}

// wdat5Format is a storage of WeatherLink archive files.
type wdat5Format struct {
	s      *settings
	units  wdatUnits
	ids    []int
	labels map[int]string
}

func newWdat5(s *settings) (format, error) {
	w := &wdat5Format{s: s, labels: make(map[int]string)}
	for _, p := range wdatUnitParameters {
		v, err := choiceParameter(s.cfg, p.name, p.choices)
		if err != nil {
			return nil, err
		}
		p.set(&w.units, v)
	}
	for _, label := range wdatLabels() {
		id, err := intParameter(s.cfg, label, 0)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(s.cfg[label]) == "" {
			continue
		}
		if _, ok := w.labels[id]; ok {
			continue
		}
		w.labels[id] = label
		w.ids = append(w.ids, id)
	}
	sort.Ints(w.ids)
	return w, nil
}

func (w *wdat5Format) variableIDs() []int {
	return w.ids
}

func (w *wdat5Format) value(id int, rec Record) (float64, string, error) {
	label, ok := w.labels[id]
	if !ok {
		return 0, "", fmt.Errorf("%w: %d", ErrUnknownVariable, id)
	}
	x := rec.Values[label]
	convert, ok := wdatConversions[label]
	if !ok {
		return x, "", nil
	}
	v, err := convert(w.units, x, rec.Values)
	return v, "", err
}

// extractTail reads the files of the month of after and of later months.
func (w *wdat5Format) extractTail(ctx context.Context, after time.Time) ([]Record, error) {
	entries, err := os.ReadDir(w.s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	firstFile := fmt.Sprintf("%04d-%02d.wlk", after.Year(), int(after.Month()))
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && wdatFilename.MatchString(e.Name()) && e.Name() >= firstFile {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	var result []Record
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck
		}
		records, err := w.tailOfFile(filepath.Join(w.s.path, name), after)
		if err != nil {
			return nil, err
		}
		verbose("%v: %d new records", name, len(records))
		result = append(result, records...)
	}
	return result, nil
}

// tailOfFile returns the valid records of a file later than after.
func (w *wdat5Format) tailOfFile(path string, after time.Time) ([]Record, error) {
	year, month, err := wdatMonth(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRead, err)
	}
	defer f.Close()

	header := make([]byte, wdatHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil || !bytes.HasPrefix(header, []byte(wdatSignature)) {
		return nil, fmt.Errorf("%w: File %v does not appear to be a WDAT 5.x file", ErrRead, path)
	}

	var records []Record
	record := make([]byte, wdatRecordSize)
	for day := 1; day <= wdatDays; day++ {
		date := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		// Normalized timestamps are never later than naive ones, and
		// packed times reach 24:00 at most.
		if !date.AddDate(0, 0, 1).After(after) {
			continue
		}
		entry := header[20+day*6 : 26+day*6]
		count := int(int16(binary.LittleEndian.Uint16(entry[:2])))
		start := int64(int32(binary.LittleEndian.Uint32(entry[2:])))
		for r := int64(0); r < int64(count); r++ {
			offset := wdatHeaderSize + (start+r)*wdatRecordSize
			if _, err := f.ReadAt(record, offset); err != nil {
				return nil, fmt.Errorf("%w: %v: cannot read record at offset %d: %v", ErrRead, path, offset, err)
			}
			if record[0] != 1 {
				continue
			}
			values := decodeWdatRecord(record)
			ts := date.Add(time.Duration(values["packedtime"]) * time.Minute)
			records = append(records, Record{Timestamp: ts, Values: values})
		}
	}

	// Normalize newest first so that the fold can be resolved from the
	// order of the records.
	scan := w.s.normalizer.Scan()
	for i := len(records) - 1; i >= 0; i-- {
		records[i].Timestamp = scan.Normalize(records[i].Timestamp)
	}
	result := records[:0]
	for _, rec := range records {
		if rec.Timestamp.After(after) {
			result = append(result, rec)
		}
	}
	return result, nil
}

// wdatMonth returns the year and month of a file from its name.
func wdatMonth(path string) (int, time.Month, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".wlk")
	ys, ms, _ := strings.Cut(name, "-")
	year, err1 := strconv.Atoi(ys)
	month, err2 := strconv.Atoi(ms)
	if err1 != nil || err2 != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("%w: %v: invalid file name", ErrRead, path)
	}
	return year, time.Month(month), nil
}

// decodeWdatRecord returns the raw values of the items of a record.
func decodeWdatRecord(record []byte) map[string]float64 {
	values := make(map[string]float64, len(wdatLayout))
	offset := 0
	for _, item := range wdatLayout {
		var v float64
		switch item.kind {
		case int8Kind:
			v = float64(int8(record[offset]))
			offset++
		case uint8Kind:
			v = float64(record[offset])
			offset++
		case int16Kind:
			v = float64(int16(binary.LittleEndian.Uint16(record[offset:])))
			offset += 2
		case uint16Kind:
			v = float64(binary.LittleEndian.Uint16(record[offset:]))
			offset += 2
		}
		values[item.name] = v
	}
	return values
}
