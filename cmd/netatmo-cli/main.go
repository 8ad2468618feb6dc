package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Invernomut0/netatmo-custom/internal/climate"
	"github.com/Invernomut0/netatmo-custom/internal/config"
)

var jsonFlag = flag.Bool("json", false, "Output JSON")

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	out := outputMode{json: *jsonFlag}
	client := &apiClient{base: resolveBaseURL(), http: &http.Client{Timeout: 30 * time.Second}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch args[0] {
	case "homes":
		homesCmd(ctx, client, out)
	case "rooms", "list":
		roomsCmd(ctx, client, out)
	case "room":
		roomCmd(ctx, client, args[1:], out)
	case "modules":
		modulesCmd(ctx, client, args[1:], out)
	case "set":
		setCmd(ctx, client, args[1:], out)
	case "mode":
		modeCmd(ctx, client, args[1:], out)
	case "preset":
		presetCmd(ctx, client, args[1:], out)
	case "schedule":
		scheduleCmd(ctx, client, args[1:], out)
	case "refresh":
		refreshCmd(ctx, client, out)
	case "watch":
		watchCmd(client)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println("netatmo-cli [--json] <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  homes")
	fmt.Println("  rooms")
	fmt.Println("  room <name|id>")
	fmt.Println("  modules [home]")
	fmt.Println("  set <room> <temp>")
	fmt.Println("  mode <room> <off|heat|auto>")
	fmt.Println("  preset <room> <preset>")
	fmt.Println("  schedule <home> <name>")
	fmt.Println("  refresh")
	fmt.Println("  watch")
}

func homesCmd(ctx context.Context, client *apiClient, out outputMode) {
	var homes []climate.HomeInfo
	if err := client.get(ctx, "/api/v1/homes", &homes); err != nil {
		fatal("homes", err)
	}
	if out.json {
		out.printJSON(homes)
		return
	}
	rows := [][]string{{"HOME", "ID", "ROOMS", "MODE", "SCHEDULE"}}
	for _, home := range homes {
		rows = append(rows, []string{home.Name, home.ID, strconv.Itoa(home.Rooms), home.ThermMode, home.SelectedSchedule})
	}
	out.table(rows)
}

func roomsCmd(ctx context.Context, client *apiClient, out outputMode) {
	rooms, err := fetchRooms(ctx, client)
	if err != nil {
		fatal("rooms", err)
	}
	if out.json {
		out.printJSON(rooms)
		return
	}
	rows := [][]string{{"ROOM", "ID", "TEMP", "TARGET", "MODE", "PRESET", "ACTION"}}
	for _, room := range rooms {
		rows = append(rows, []string{
			room.RoomName,
			room.UniqueID,
			formatTemp(room.CurrentTemperature),
			fmt.Sprintf("%.1f", room.TargetTemperature),
			string(room.HVACMode),
			room.PresetMode,
			string(room.HVACAction),
		})
	}
	out.table(rows)
}

func roomCmd(ctx context.Context, client *apiClient, args []string, out outputMode) {
	if len(args) < 1 {
		fatal("room", fmt.Errorf("usage: netatmo-cli room <name|id>"))
	}
	id, err := resolveRoomID(ctx, client, args[0])
	if err != nil {
		fatal("room", err)
	}
	var room climate.RoomState
	if err := client.get(ctx, "/api/v1/rooms/"+id, &room); err != nil {
		fatal("room", err)
	}
	if out.json {
		out.printJSON(room)
		return
	}
	printRoom(room)
}

func modulesCmd(ctx context.Context, client *apiClient, args []string, out outputMode) {
	var homes []climate.HomeInfo
	if err := client.get(ctx, "/api/v1/homes", &homes); err != nil {
		fatal("modules", err)
	}
	if len(args) > 0 {
		homeID, err := resolveHomeID(homes, args[0])
		if err != nil {
			fatal("modules", err)
		}
		homes = filterHomes(homes, homeID)
	}

	rows := [][]string{{"MODULE", "ID", "TYPE", "REACHABLE", "BATTERY"}}
	var all []climate.ModuleState
	for _, home := range homes {
		var modules []climate.ModuleState
		if err := client.get(ctx, "/api/v1/homes/"+home.ID+"/modules", &modules); err != nil {
			fatal("modules", err)
		}
		all = append(all, modules...)
		for _, module := range modules {
			battery := module.BatteryState
			if module.BatteryLevel != nil {
				battery = fmt.Sprintf("%s (%d)", module.BatteryState, *module.BatteryLevel)
			}
			rows = append(rows, []string{module.Name, module.ID, module.Type, strconv.FormatBool(module.Reachable), battery})
		}
	}
	if out.json {
		out.printJSON(all)
		return
	}
	out.table(rows)
}

func setCmd(ctx context.Context, client *apiClient, args []string, out outputMode) {
	if len(args) < 2 {
		fatal("set", fmt.Errorf("usage: netatmo-cli set <room> <temp>"))
	}
	temp, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		fatal("set", fmt.Errorf("invalid temperature %q", args[1]))
	}
	id, err := resolveRoomID(ctx, client, args[0])
	if err != nil {
		fatal("set", err)
	}
	var room climate.RoomState
	if err := client.put(ctx, "/api/v1/rooms/"+id+"/temperature", map[string]any{"temperature": temp}, &room); err != nil {
		fatal("set", err)
	}
	if out.json {
		out.printJSON(room)
		return
	}
	fmt.Printf("ok: %s -> %.1f°C\n", strings.ToLower(room.RoomName), temp)
}

func modeCmd(ctx context.Context, client *apiClient, args []string, out outputMode) {
	if len(args) < 2 {
		fatal("mode", fmt.Errorf("usage: netatmo-cli mode <room> <off|heat|auto>"))
	}
	id, err := resolveRoomID(ctx, client, args[0])
	if err != nil {
		fatal("mode", err)
	}
	var room climate.RoomState
	if err := client.put(ctx, "/api/v1/rooms/"+id+"/mode", map[string]any{"mode": args[1]}, &room); err != nil {
		fatal("mode", err)
	}
	if out.json {
		out.printJSON(room)
		return
	}
	fmt.Printf("ok: %s -> %s\n", strings.ToLower(room.RoomName), room.HVACMode)
}

func presetCmd(ctx context.Context, client *apiClient, args []string, out outputMode) {
	if len(args) < 2 {
		fatal("preset", fmt.Errorf("usage: netatmo-cli preset <room> <preset>"))
	}
	id, err := resolveRoomID(ctx, client, args[0])
	if err != nil {
		fatal("preset", err)
	}
	var room climate.RoomState
	if err := client.put(ctx, "/api/v1/rooms/"+id+"/preset", map[string]any{"preset": args[1]}, &room); err != nil {
		fatal("preset", err)
	}
	if out.json {
		out.printJSON(room)
		return
	}
	fmt.Printf("ok: %s -> %s\n", strings.ToLower(room.RoomName), room.PresetMode)
}

func scheduleCmd(ctx context.Context, client *apiClient, args []string, out outputMode) {
	if len(args) < 2 {
		fatal("schedule", fmt.Errorf("usage: netatmo-cli schedule <home> <name>"))
	}
	var homes []climate.HomeInfo
	if err := client.get(ctx, "/api/v1/homes", &homes); err != nil {
		fatal("schedule", err)
	}
	homeID, err := resolveHomeID(homes, args[0])
	if err != nil {
		fatal("schedule", err)
	}
	if err := client.put(ctx, "/api/v1/homes/"+homeID+"/schedule", map[string]any{"name": args[1]}, nil); err != nil {
		fatal("schedule", err)
	}
	if out.json {
		out.printJSON(map[string]any{"home": args[0], "schedule": args[1], "status": "accepted"})
		return
	}
	fmt.Printf("ok: schedule -> %s\n", args[1])
}

func refreshCmd(ctx context.Context, client *apiClient, out outputMode) {
	if err := client.post(ctx, "/api/v1/refresh"); err != nil {
		fatal("refresh", err)
	}
	if out.json {
		out.printJSON(map[string]string{"status": "refreshing"})
		return
	}
	fmt.Println("ok: refreshing")
}

func printRoom(room climate.RoomState) {
	fmt.Printf("room: %s\n", room.RoomName)
	fmt.Printf("id: %s\n", room.UniqueID)
	fmt.Printf("model: %s\n", room.Model)
	fmt.Printf("available: %t\n", room.Available)
	fmt.Printf("temperature: %s\n", formatTemp(room.CurrentTemperature))
	fmt.Printf("target: %.1f\n", room.TargetTemperature)
	fmt.Printf("mode: %s (%s)\n", room.HVACMode, room.HVACAction)
	fmt.Printf("preset: %s\n", room.PresetMode)
	if room.SelectedSchedule != "" {
		fmt.Printf("schedule: %s\n", room.SelectedSchedule)
	}
	if room.HeatingPowerRequest != nil {
		fmt.Printf("heating_power: %d%%\n", *room.HeatingPowerRequest)
	}
	if room.BoilerStatus != nil {
		fmt.Printf("boiler: %t\n", *room.BoilerStatus)
	}
}

func fetchRooms(ctx context.Context, client *apiClient) ([]climate.RoomState, error) {
	var rooms []climate.RoomState
	if err := client.get(ctx, "/api/v1/rooms", &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func resolveRoomID(ctx context.Context, client *apiClient, input string) (string, error) {
	rooms, err := fetchRooms(ctx, client)
	if err != nil {
		return "", err
	}
	options := make(map[string]string, len(rooms))
	for _, room := range rooms {
		options[room.RoomName] = room.UniqueID
		if room.UniqueID == input || room.RoomID == input {
			return room.UniqueID, nil
		}
	}
	return resolveNamedID("room", input, options)
}

func resolveHomeID(homes []climate.HomeInfo, input string) (string, error) {
	options := make(map[string]string, len(homes))
	for _, home := range homes {
		options[home.Name] = home.ID
		if home.ID == input {
			return home.ID, nil
		}
	}
	return resolveNamedID("home", input, options)
}

func filterHomes(homes []climate.HomeInfo, id string) []climate.HomeInfo {
	for _, home := range homes {
		if home.ID == id {
			return []climate.HomeInfo{home}
		}
	}
	return nil
}

func formatTemp(value *float64) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *value)
}

type apiClient struct {
	base string
	http *http.Client
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *apiClient) put(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPut, path, body, out)
}

func (c *apiClient) post(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(data))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func resolveBaseURL() string {
	if value := os.Getenv("NETATMOD_HTTP_ADDR"); value != "" {
		return baseURLFromAddr(value)
	}
	for _, path := range configSearchPaths() {
		if addr := addrFromConfig(path); addr != "" {
			return baseURLFromAddr(addr)
		}
	}
	return "http://netatmod:8080"
}

func configSearchPaths() []string {
	paths := []string{config.DefaultPath}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "netatmod", "config.yaml"))
	}
	return paths
}

func addrFromConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil || cfg == nil {
		return ""
	}
	return cfg.Core.HTTPAddr
}

// baseURLFromAddr turns a listen address into something dialable.
func baseURLFromAddr(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
