// tests is a bench probe for a sound board: it finds the serial port,
// identifies the board and then polls which tracks are playing, printing
// the round-trip time of every query.
package main

import (
	"fmt"
	"os"
	"time"

	flag "github.com/spf13/pflag"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"simctl/audio"
	"simctl/audio/wavtrigger"
)

func sendSerial(f serial.Port, buf []byte) error {
	sent := 0
	for sent < len(buf) {
		n, e := f.Write(buf[sent:])
		if e != nil {
			return e
		}
		sent += n
	}
	return nil
}

func query(f serial.Port, op audio.Op) (audio.Reply, time.Duration, error) {
	tStart := time.Now()
	if err := f.ResetInputBuffer(); err != nil {
		return audio.Reply{}, 0, err
	}
	if err := sendSerial(f, audio.EncodeQuery(op)); err != nil {
		return audio.Reply{}, 0, err
	}
	r, err := audio.ReadReply(f)
	return r, time.Since(tStart), err
}

// selectPort prefers a USB adapter, then the first port listed.
func selectPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", err
	}
	for _, port := range ports {
		if port.IsUSB {
			fmt.Printf("USB %s:%s %s\n", port.VID, port.PID, port.Name)
			return port.Name, nil
		}
	}
	if len(ports) > 0 {
		return ports[0].Name, nil
	}
	return "", wavtrigger.ErrNoPortFound
}

func main() {
	baud := flag.IntP("baud", "b", wavtrigger.DefaultBaud, "baud rate")
	play := flag.IntP("play", "p", 0, "track to play once before polling")
	flag.Parse()

	initConsole()

	name := flag.Arg(0)
	if name == "" {
		var err error
		if name, err = selectPort(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	f, err := serial.Open(name, &serial.Mode{
		BaudRate: *baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()

	if err = f.SetReadTimeout(100 * time.Millisecond); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	r, d, err := query(f, audio.OpGetVersion)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: no version reply: %v\n", name, err)
		os.Exit(1)
	}
	fmt.Printf("%s: %q (%d bytes) in %v\n", name, r.Data, len(r.Data)+1, d)

	if r, d, err = query(f, audio.OpGetSysInfo); err == nil && len(r.Data) >= 2 {
		fmt.Printf("voices %d tracks %d in %v\n", r.Data[0], r.Data[1], d)
	}

	if *play > 0 {
		if err = sendSerial(f, audio.EncodeTrackControl(audio.BoardTsunami, 0, *play, audio.TrackPlaySolo)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	fmt.Printf("\u001B[2J")
	for {
		r, d, err = query(f, audio.OpGetStatus)
		if err != nil {
			fmt.Printf("\033[H\033[0m\033[2K%10d | %v\n", d.Microseconds(), err)
		} else {
			fmt.Printf("\033[H\033[0m\033[2K%10d | playing %v\n", d.Microseconds(), r.Tracks())
		}
		time.Sleep(time.Second)
	}
}
