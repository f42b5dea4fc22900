// Command beatframe orchestrates the music video pipeline.
package main

func main() {
	Execute()
}
